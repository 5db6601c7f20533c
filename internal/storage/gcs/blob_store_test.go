package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewValidatesInputs(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "archive"})
	require.ErrorContains(t, err, "storage client is required")

	_, err = Open(context.Background(), Config{})
	require.ErrorContains(t, err, "bucket name is required")
}
