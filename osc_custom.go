package headlessterm

import (
	"bytes"
	"encoding/base64"
)

// scanCustomOSC looks for OSC sequences that go-ansicode's Handler interface
// has no dispatch for (iTerm2's OSC 1337) and applies their side effects
// directly, ahead of the main decoder. go-ansicode silently drops OSC codes
// it doesn't recognize, so running both passes over the same bytes is safe.
func (t *Terminal) scanCustomOSC(data []byte) {
	const esc = 0x1b
	rest := data
	for {
		idx := bytes.IndexByte(rest, esc)
		if idx < 0 || idx+1 >= len(rest) {
			return
		}
		if rest[idx+1] != ']' {
			rest = rest[idx+1:]
			continue
		}
		body := rest[idx+2:]

		end, term := findOSCTerminator(body)
		if end < 0 {
			return
		}

		t.dispatchCustomOSC(body[:end])
		rest = body[end+term:]
	}
}

// findOSCTerminator returns the offset of BEL or ST (ESC \) within body and
// the number of bytes the terminator occupies, or -1 if none is present.
func findOSCTerminator(body []byte) (offset, width int) {
	for i := 0; i < len(body); i++ {
		if body[i] == 0x07 {
			return i, 1
		}
		if body[i] == 0x1b && i+1 < len(body) && body[i+1] == '\\' {
			return i, 2
		}
	}
	return -1, 0
}

func (t *Terminal) dispatchCustomOSC(payload []byte) {
	semi := bytes.IndexByte(payload, ';')
	if semi < 0 {
		return
	}
	code := string(payload[:semi])
	rest := payload[semi+1:]

	switch code {
	case "1337":
		t.dispatchOSC1337(rest)
	}
}

func (t *Terminal) dispatchOSC1337(rest []byte) {
	const prefix = "SetUserVar="
	if !bytes.HasPrefix(rest, []byte(prefix)) {
		return
	}
	rest = rest[len(prefix):]

	eq := bytes.IndexByte(rest, '=')
	if eq < 0 {
		return
	}
	name := string(rest[:eq])
	encoded := string(rest[eq+1:])

	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return
	}
	t.SetUserVar(name, string(value))
}
