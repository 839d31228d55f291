package discovery

import (
	"strings"

	"golang.org/x/net/dns/dnsmessage"
)

const (
	ttlAlive   uint32 = 120
	ttlGoodbye uint32 = 0
)

// announceRecords is the PTR+SRV+TXT record set describing one advertised
// instance. The hostname's A record is not part of it; the responder's
// pion/mdns host connection answers for that name.
type announceRecords struct {
	serviceFQDN  string
	instanceFQDN string
	hostFQDN     string
	port         uint16
	txt          []string
	ttl          uint32
}

// buildAnnounce encodes rec as an unsolicited mDNS response: a PTR
// pointing service->instance and an SRV and TXT for the instance; no A
// record is included. ttl 0 marks the records as a
// goodbye (RFC 6762 section 8.4).
func buildAnnounce(rec announceRecords) ([]byte, error) {
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{Response: true, Authoritative: true})
	if err := b.StartAnswers(); err != nil {
		return nil, err
	}

	serviceName, err := dnsmessage.NewName(fqdn(rec.serviceFQDN))
	if err != nil {
		return nil, err
	}
	instanceName, err := dnsmessage.NewName(fqdn(rec.instanceFQDN))
	if err != nil {
		return nil, err
	}
	hostName, err := dnsmessage.NewName(fqdn(rec.hostFQDN))
	if err != nil {
		return nil, err
	}

	if err := b.PTRResource(
		dnsmessage.ResourceHeader{Name: serviceName, Class: dnsmessage.ClassINET, TTL: rec.ttl},
		dnsmessage.PTRResource{PTR: instanceName},
	); err != nil {
		return nil, err
	}

	if err := b.SRVResource(
		dnsmessage.ResourceHeader{Name: instanceName, Class: dnsmessage.ClassINET, TTL: rec.ttl},
		dnsmessage.SRVResource{Priority: 0, Weight: 0, Port: rec.port, Target: hostName},
	); err != nil {
		return nil, err
	}

	if err := b.TXTResource(
		dnsmessage.ResourceHeader{Name: instanceName, Class: dnsmessage.ClassINET, TTL: rec.ttl},
		dnsmessage.TXTResource{TXT: rec.txt},
	); err != nil {
		return nil, err
	}

	return b.Finish()
}

// queryMatchesService reports whether msg contains a question this
// responder should answer: a PTR for serviceFQDN, or an SRV/TXT/A for
// our own names. It tolerates malformed or unrelated multicast chatter
// by simply returning false rather than erroring.
func queryMatchesService(msg []byte, serviceFQDN, hostFQDN string) bool {
	var p dnsmessage.Parser
	if _, err := p.Start(msg); err != nil {
		return false
	}
	questions, err := p.AllQuestions()
	if err != nil {
		return false
	}
	wantService := fqdn(serviceFQDN)
	wantHost := fqdn(hostFQDN)
	for _, q := range questions {
		name := q.Name.String()
		switch q.Type {
		case dnsmessage.TypePTR:
			if strings.EqualFold(name, wantService) {
				return true
			}
		case dnsmessage.TypeA, dnsmessage.TypeSRV, dnsmessage.TypeTXT, dnsmessage.TypeALL:
			if strings.EqualFold(name, wantHost) {
				return true
			}
		}
	}
	return false
}

func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

// escapeInstance percent-free-escapes the handful of characters DNS-SD
// reserves in an instance name (RFC 6763 section 4.3): '.' and '\'.
func escapeInstance(name string) string {
	name = strings.ReplaceAll(name, `\`, `\\`)
	name = strings.ReplaceAll(name, `.`, `\.`)
	return name
}
