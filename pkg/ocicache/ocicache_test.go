package ocicache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInspectRejectsInvalidReference(t *testing.T) {
	_, err := Inspect("not a valid ref::::")
	assert.Error(t, err)
}

func TestListSkipsFailuresAndReportsThem(t *testing.T) {
	var failed []string
	entries := List([]string{"not a valid ref::::", "also::bad::"}, func(ref string, err error) {
		failed = append(failed, ref)
	})
	assert.Empty(t, entries)
	assert.Len(t, failed, 2)
}
