package service

import (
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// newSaleID returns a UUIDv7: a millisecond timestamp prefix followed by random bits.
func newSaleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// newEvidenceRef picks a fresh artifact path for evidence bytes and reports the
// detected content type.
func newEvidenceRef(now time.Time, data []byte) (ref, contentType string) {
	mt := mimetype.Detect(data)
	ext := mt.Extension()
	if ext == "" {
		ext = ".bin"
	}
	ref = fmt.Sprintf("evidence/%s/%s%s", now.UTC().Format("20060102"), uuid.NewString(), ext)
	return ref, mt.String()
}
