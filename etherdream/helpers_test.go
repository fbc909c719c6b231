package etherdream

import (
	"bytes"
	"io"
)

func bytesOf(parts ...[]byte) io.Reader {
	return bytes.NewReader(bytes.Join(parts, nil))
}
