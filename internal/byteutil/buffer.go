// Package byteutil pools the scratch buffers used when rendering documents
// and journal records.
package byteutil

import (
	"bytes"
	"sync"
)

var bytesBuffer = sync.Pool{
	New: func() interface{} { return &bytes.Buffer{} },
}

func GetBytesBuf() *bytes.Buffer {
	return bytesBuffer.Get().(*bytes.Buffer)
}

// PutBytesBuf resets p and returns it to the pool. p must not be used afterwards.
func PutBytesBuf(p *bytes.Buffer) {
	p.Reset()
	bytesBuffer.Put(p)
}
