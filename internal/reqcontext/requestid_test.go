package reqcontext

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestIsValidRequestID(t *testing.T) {
	valid := []string{
		"a1b2c3d4-e5f6-7890-abcd-ef1234567890",
		"wf_run-17.step:3",
		"X",
		strings.Repeat("z", MaxRequestIDLength),
	}
	for _, id := range valid {
		assert.True(t, IsValidRequestID(id), id)
	}

	invalid := []string{
		"",
		strings.Repeat("z", MaxRequestIDLength+1),
		"two words",
		"quote\"inside",
		"line\nbreak",
		"slash/path",
		"café",
	}
	for _, id := range invalid {
		assert.False(t, IsValidRequestID(id), "%q", id)
	}
}

func TestGenerateRequestID(t *testing.T) {
	a, b := GenerateRequestID(), GenerateRequestID()

	_, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.True(t, IsValidRequestID(a))
	assert.NotEqual(t, a, b)
}

func TestRequestIDOrNew(t *testing.T) {
	assert.Equal(t, "batch-7:item.2", RequestIDOrNew("batch-7:item.2"))

	for _, bad := range []string{"", "has space", "<script>"} {
		got := RequestIDOrNew(bad)
		assert.NotEqual(t, bad, got)
		assert.True(t, IsValidRequestID(got))
	}
}

func TestRequestIDOrNew_AlwaysValid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		in := rapid.String().Draw(t, "provided")
		got := RequestIDOrNew(in)
		if !IsValidRequestID(got) {
			t.Fatalf("RequestIDOrNew(%q) = %q is not a valid id", in, got)
		}
		if IsValidRequestID(in) && got != in {
			t.Fatalf("valid id %q was replaced with %q", in, got)
		}
	})
}

func TestResolveRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "from-ctx")

	assert.Equal(t, "explicit", ResolveRequestID(ctx, "explicit"))
	assert.Equal(t, "from-ctx", ResolveRequestID(ctx, ""))

	_, err := uuid.Parse(ResolveRequestID(context.Background(), ""))
	assert.NoError(t, err)
}
