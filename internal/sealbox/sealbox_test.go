package sealbox_test

import (
	"strings"
	"testing"

	"github.com/jrsteele09/go-social-connect/internal/sealbox"
	"github.com/stretchr/testify/require"
)

func TestBox_SealOpen(t *testing.T) {
	box, err := sealbox.New("test-secret")
	require.NoError(t, err)

	sealed, err := box.Seal("EAAB-page-token")
	require.NoError(t, err)
	require.NotContains(t, sealed, "EAAB-page-token")
	require.True(t, strings.HasPrefix(sealed, "sb1:"))

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "EAAB-page-token", plain)
}

func TestBox_EmptyValuesStayEmpty(t *testing.T) {
	box, err := sealbox.New("test-secret")
	require.NoError(t, err)

	sealed, err := box.Seal("")
	require.NoError(t, err)
	require.Empty(t, sealed)

	plain, err := box.Open("")
	require.NoError(t, err)
	require.Empty(t, plain)
}

func TestBox_WrongKey(t *testing.T) {
	a, err := sealbox.New("key-a")
	require.NoError(t, err)
	b, err := sealbox.New("key-b")
	require.NoError(t, err)

	sealed, err := a.Seal("value")
	require.NoError(t, err)

	_, err = b.Open(sealed)
	require.ErrorIs(t, err, sealbox.ErrDecrypt)

	_, err = a.Open("plain-text")
	require.ErrorIs(t, err, sealbox.ErrDecrypt)
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := sealbox.New("  ")
	require.Error(t, err)
}
