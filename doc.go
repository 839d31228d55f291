// Package media provides the data-model primitives shared by the capture,
// encoder, and session layers of the streaming host: raw frame/sample
// types, codec identifiers, and provider metadata.
//
// # Architecture
//
//	Capture: capture.VideoCapture/AudioCapture -> VideoFrame/AudioSamples
//	Encode:  VideoFrame  -> VideoEncoder -> EncodedFrame -> wire.Packetizer
//	Encode:  AudioSamples -> AudioEncoder -> EncodedAudio -> wire.Packetizer
//
// session.Session drives this directly: it pulls a frame from the capture
// handle, hands it straight to the encoder, and packetizes the result —
// there is no intermediate track or stream abstraction sitting between
// them. This package carries no decode path; the host only ever encodes.
//
// # Native Libraries
//
// The encoder package loads libstreamhost_h264 and libstreamhost_opus, and
// the capture package (Linux only) loads libstreamhost_capture, all through
// purego. STREAMHOST_H264_LIB_PATH and STREAMHOST_OPUS_LIB_PATH name the
// encoder library files to load; STREAMHOST_CAPTURE_LIB_PATH names the
// directory holding the capture library. These bindings are compiled only
// with CGO disabled (CGO_ENABLED=0); a cgo build registers no native
// provider. When no native library is present, ProviderSoftware is always
// available as a deterministic, dependency-free stand-in.
//
// # Supported Codecs
//
// Video: H.264 (x264 via libstreamhost_h264), H.264 and H.265 software
// stand-in.
// Audio: Opus (libopus), software stand-in.
package media
