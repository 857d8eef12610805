package logger

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskAddress(t *testing.T) {
	require.Equal(t, "jo***@example.com", MaskAddress("john.doe@example.com"))
	require.Equal(t, "a***@example.com", MaskAddress("ab@example.com"))
	require.Equal(t, "***", MaskAddress("not-an-address"))
	require.Equal(t, "", MaskAddress(""))
}

func TestMaskPhone(t *testing.T) {
	require.Equal(t, "***789", MaskPhone("+244923456789"))
	require.Equal(t, "***", MaskPhone("12"))
}
