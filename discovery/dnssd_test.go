package discovery

import (
	"testing"

	"golang.org/x/net/dns/dnsmessage"
)

func TestEscapeInstanceEscapesDotsAndBackslashes(t *testing.T) {
	got := escapeInstance(`Alice's PC.local\x`)
	want := `Alice's PC\.local\\x`
	if got != want {
		t.Fatalf("escapeInstance() = %q, want %q", got, want)
	}
}

func TestFQDNAppendsTrailingDotOnce(t *testing.T) {
	if got := fqdn("host.local"); got != "host.local." {
		t.Fatalf("fqdn() = %q, want host.local.", got)
	}
	if got := fqdn("host.local."); got != "host.local." {
		t.Fatalf("fqdn() should not double the trailing dot, got %q", got)
	}
}

func buildPTRQuery(t *testing.T, name string) []byte {
	t.Helper()
	b := dnsmessage.NewBuilder(nil, dnsmessage.Header{})
	if err := b.StartQuestions(); err != nil {
		t.Fatalf("StartQuestions: %v", err)
	}
	qname, err := dnsmessage.NewName(name)
	if err != nil {
		t.Fatalf("NewName: %v", err)
	}
	if err := b.Question(dnsmessage.Question{Name: qname, Type: dnsmessage.TypePTR, Class: dnsmessage.ClassINET}); err != nil {
		t.Fatalf("Question: %v", err)
	}
	msg, err := b.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return msg
}

func TestQueryMatchesServiceRecognizesPTRQuestion(t *testing.T) {
	msg := buildPTRQuery(t, "_nvstream._tcp.local.")
	if !queryMatchesService(msg, "_nvstream._tcp.local", "streamhost-1.local") {
		t.Fatal("expected PTR query for the service type to match")
	}
}

func TestQueryMatchesServiceIgnoresUnrelatedQuestion(t *testing.T) {
	msg := buildPTRQuery(t, "_airplay._tcp.local.")
	if queryMatchesService(msg, "_nvstream._tcp.local", "streamhost-1.local") {
		t.Fatal("expected an unrelated service PTR query not to match")
	}
}

func TestQueryMatchesServiceIgnoresGarbage(t *testing.T) {
	if queryMatchesService([]byte{0x00, 0x01, 0x02}, "_nvstream._tcp.local", "streamhost-1.local") {
		t.Fatal("expected malformed input not to match")
	}
}

func TestBuildAnnounceProducesParsablePTRSRVTXT(t *testing.T) {
	msg, err := buildAnnounce(announceRecords{
		serviceFQDN:  "_nvstream._tcp.local",
		instanceFQDN: `Living Room\.local._nvstream._tcp.local`,
		hostFQDN:     "streamhost-1.local",
		port:         47998,
		txt:          []string{"id=abc", "ver=1"},
		ttl:          ttlAlive,
	})
	if err != nil {
		t.Fatalf("buildAnnounce: %v", err)
	}

	var p dnsmessage.Parser
	hdr, err := p.Start(msg)
	if err != nil {
		t.Fatalf("Parser.Start: %v", err)
	}
	if !hdr.Response || !hdr.Authoritative {
		t.Fatal("announce header should be an authoritative response")
	}
	if err := p.SkipAllQuestions(); err != nil {
		t.Fatalf("SkipAllQuestions: %v", err)
	}

	var sawPTR, sawSRV, sawTXT bool
	for {
		rh, err := p.AnswerHeader()
		if err != nil {
			break
		}
		switch rh.Type {
		case dnsmessage.TypePTR:
			sawPTR = true
			if _, err := p.PTRResource(); err != nil {
				t.Fatalf("PTRResource: %v", err)
			}
		case dnsmessage.TypeSRV:
			sawSRV = true
			r, err := p.SRVResource()
			if err != nil {
				t.Fatalf("SRVResource: %v", err)
			}
			if r.Port != 47998 {
				t.Fatalf("SRV port = %d, want 47998", r.Port)
			}
		case dnsmessage.TypeTXT:
			sawTXT = true
			if _, err := p.TXTResource(); err != nil {
				t.Fatalf("TXTResource: %v", err)
			}
		default:
			if err := p.SkipAnswer(); err != nil {
				t.Fatalf("SkipAnswer: %v", err)
			}
		}
	}
	if !sawPTR || !sawSRV || !sawTXT {
		t.Fatalf("expected PTR, SRV and TXT records, got PTR=%v SRV=%v TXT=%v", sawPTR, sawSRV, sawTXT)
	}
}

func TestBuildAnnounceGoodbyeUsesZeroTTL(t *testing.T) {
	msg, err := buildAnnounce(announceRecords{
		serviceFQDN:  "_nvstream._tcp.local",
		instanceFQDN: "Living Room._nvstream._tcp.local",
		hostFQDN:     "streamhost-1.local",
		port:         47998,
		ttl:          ttlGoodbye,
	})
	if err != nil {
		t.Fatalf("buildAnnounce: %v", err)
	}

	var p dnsmessage.Parser
	if _, err := p.Start(msg); err != nil {
		t.Fatalf("Parser.Start: %v", err)
	}
	if err := p.SkipAllQuestions(); err != nil {
		t.Fatalf("SkipAllQuestions: %v", err)
	}
	rh, err := p.AnswerHeader()
	if err != nil {
		t.Fatalf("AnswerHeader: %v", err)
	}
	if rh.TTL != 0 {
		t.Fatalf("goodbye record TTL = %d, want 0", rh.TTL)
	}
}
