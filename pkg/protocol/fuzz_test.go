package protocol

import (
	"errors"
	"testing"
)

// FuzzDecode fuzzes the envelope decoder with arbitrary text
func FuzzDecode(f *testing.F) {
	f.Add(`{"messageType":"users","dataArray":["alice","bob"],"data":null}`)
	f.Add(`{"messageType":"register","dataArray":null,"data":"alice"}`)
	f.Add(`{"messageType":"message","dataArray":null,"data":"{\"from\":\"bob\",\"message\":\"hi\"}"}`)
	f.Add(`{"messageType":"typing"}`)
	f.Add(`{"messageType":"users","dataArray":["a",null]}`)
	f.Add(`{`)
	f.Add(``)

	f.Fuzz(func(t *testing.T, text string) {
		env, err := Decode(text)
		if err != nil {
			// Every failure must belong to the closed taxonomy
			if !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrUnknownVariant) && !errors.Is(err, ErrSchemaViolation) {
				t.Fatalf("unclassified decode error: %v", err)
			}
			return
		}

		// Anything accepted must re-encode
		if _, err := Encode(env); err != nil {
			t.Fatalf("decoded envelope failed to encode: %v", err)
		}
	})
}

// FuzzDecodeChatPayload fuzzes the nested payload decoder
func FuzzDecodeChatPayload(f *testing.F) {
	f.Add(`{"from":"bob","message":"hi"}`)
	f.Add(`{"from":"bob"}`)
	f.Add(`null`)

	f.Fuzz(func(t *testing.T, data string) {
		// Should never panic
		_, _ = DecodeChatPayload(data)
	})
}
