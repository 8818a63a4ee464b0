package tracecontext

import "crypto/rand"

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand.Read only fails if the system entropy source is
		// broken; there is nothing a caller can do to recover, and every
		// other part of this engine assumes a working CSPRNG.
		panic("tracecontext: crypto/rand unavailable: " + err.Error())
	}
	return b
}
