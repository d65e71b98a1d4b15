// Package rtc holds the WebRTC-facing half of cloudrender: the session
// description and ICE candidate value types shared with the wire protocol,
// the negotiation engine abstraction, and the per-peer negotiation state
// machine (PeerLink) that drives offer/answer/ICE exchange.
package rtc

// Session description types as they appear on the wire.
const (
	SDPTypeOffer  = "offer"
	SDPTypeAnswer = "answer"
)

// SessionDescription is one side's SDP blob for a peer connection. The SDP
// body is opaque to cloudrender; only the type tag is ever inspected.
type SessionDescription struct {
	Type string
	SDP  string
}

// IsZero reports whether the description has been populated.
func (d SessionDescription) IsZero() bool {
	return d.Type == "" && d.SDP == ""
}

// Document returns the description as a generic JSON object
// {"type": ..., "sdp": ...}.
func (d SessionDescription) Document() map[string]any {
	return map[string]any{
		"type": d.Type,
		"sdp":  d.SDP,
	}
}

// SessionDescriptionFromDocument parses a {"type", "sdp"} object. Both
// fields are mandatory; ok is false when either is missing or empty.
func SessionDescriptionFromDocument(doc map[string]any) (SessionDescription, bool) {
	d := SessionDescription{
		Type: stringValue(doc["type"]),
		SDP:  stringValue(doc["sdp"]),
	}
	if d.Type == "" || d.SDP == "" {
		return SessionDescription{}, false
	}
	return d, true
}

// ICECandidate is a single connectivity option for a peer connection. The
// candidate string is opaque; the mid and m-line index locate it in the SDP.
type ICECandidate struct {
	SDPMLineIndex int
	SDPMid        string
	Candidate     string
}

// Document returns the candidate as a generic JSON object.
func (c ICECandidate) Document() map[string]any {
	return map[string]any{
		"sdpMLineIndex": c.SDPMLineIndex,
		"sdpMid":        c.SDPMid,
		"candidate":     c.Candidate,
	}
}

// ICECandidateFromDocument parses a candidate object. sdpMid and candidate
// are mandatory; ok is false when either is missing or empty.
func ICECandidateFromDocument(doc map[string]any) (ICECandidate, bool) {
	c := ICECandidate{
		SDPMLineIndex: intValue(doc["sdpMLineIndex"]),
		SDPMid:        stringValue(doc["sdpMid"]),
		Candidate:     stringValue(doc["candidate"]),
	}
	if c.SDPMid == "" || c.Candidate == "" {
		return ICECandidate{}, false
	}
	return c, true
}

// ICECandidatesFromList parses a list of candidate objects. Entries that are
// not objects or fail to parse are skipped; order of the valid entries is
// preserved.
func ICECandidatesFromList(list []any) []ICECandidate {
	var out []ICECandidate
	for _, entry := range list {
		doc, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if c, ok := ICECandidateFromDocument(doc); ok {
			out = append(out, c)
		}
	}
	return out
}

// ICECandidatesToList converts candidates to a list of generic JSON objects.
func ICECandidatesToList(candidates []ICECandidate) []any {
	out := make([]any, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Document())
	}
	return out
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// intValue coerces JSON numbers (decoded as float64) and native ints.
func intValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}
