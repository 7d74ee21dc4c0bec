package reid_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/graphlog/pkg/reid"
)

func TestSignVerify(t *testing.T) {
	pub, priv := newKeys(t)
	msg := []byte("canonical bytes")

	sig, err := reid.Sign(priv, msg)
	require.NoError(t, err)
	assert.True(t, reid.Verify(pub, msg, sig))
	assert.False(t, reid.Verify(pub, []byte("other bytes"), sig))
	assert.False(t, reid.Verify(pub, msg, sig[:len(sig)-1]))
	assert.False(t, reid.Verify(pub[:16], msg, sig))
}

func TestBindsID(t *testing.T) {
	pub, _ := newKeys(t)
	other, _ := newKeys(t)

	id := reid.DeriveID(pub)
	assert.Len(t, id, reid.IDSize)
	assert.True(t, reid.BindsID(pub, id))
	assert.False(t, reid.BindsID(other, id))
	assert.False(t, reid.BindsID(pub, id[:8]))
}

func TestParsePublicKey(t *testing.T) {
	pub, _ := newKeys(t)
	pemText, err := reid.MarshalPublicKeyPEM(pub)
	require.NoError(t, err)

	t.Run("pem", func(t *testing.T) {
		got, err := reid.ParsePublicKey(pemText)
		require.NoError(t, err)
		assert.Equal(t, pub, got)
	})

	t.Run("base64 pem", func(t *testing.T) {
		got, err := reid.ParsePublicKey(base64.StdEncoding.EncodeToString([]byte(pemText)))
		require.NoError(t, err)
		assert.Equal(t, pub, got)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := reid.ParsePublicKey("definitely not a key")
		assert.ErrorIs(t, err, reid.ErrInvalidKey)
	})

	t.Run("non ed25519", func(t *testing.T) {
		ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		require.NoError(t, err)
		der, err := x509.MarshalPKIXPublicKey(&ecKey.PublicKey)
		require.NoError(t, err)
		ecPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

		_, err = reid.ParsePublicKey(string(ecPEM))
		assert.ErrorIs(t, err, reid.ErrInvalidKey)
	})
}

func TestClaimHelpers(t *testing.T) {
	pub, priv := newKeys(t)

	t.Run("ssh", func(t *testing.T) {
		k, err := reid.SSHKeyClaim(pub)
		require.NoError(t, err)
		assert.Equal(t, reid.KeyEd25519, k.Type)
		assert.Contains(t, k.Value, "ssh-ed25519 ")

		parsed, err := reid.ParseSSHKeyClaim(k)
		require.NoError(t, err)
		assert.Equal(t, "ssh-ed25519", parsed.Type())
	})

	t.Run("wireguard", func(t *testing.T) {
		k, err := reid.WireGuardKeyClaim(make([]byte, 32))
		require.NoError(t, err)
		assert.Len(t, k.Value, 44)

		_, err = reid.WireGuardKeyClaim(make([]byte, 31))
		assert.ErrorIs(t, err, reid.ErrInvalidKey)
	})

	t.Run("x509", func(t *testing.T) {
		tmpl := &x509.Certificate{
			SerialNumber: big.NewInt(1),
			Subject:      pkix.Name{CommonName: "graphlog test"},
			NotBefore:    time.Now().Add(-time.Hour),
			NotAfter:     time.Now().Add(time.Hour),
		}
		der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, pub, priv)
		require.NoError(t, err)
		certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

		k, err := reid.X509Claim(certPEM)
		require.NoError(t, err)
		assert.Equal(t, certPEM, k.Value)

		_, err = reid.X509Claim("-----BEGIN NOTHING-----\n-----END NOTHING-----\n")
		assert.ErrorIs(t, err, reid.ErrInvalidKey)
	})
}

func TestEnumText(t *testing.T) {
	assert.Equal(t, "SSHKEY", reid.ClaimSSHKey.String())
	assert.Equal(t, "WGKEY", reid.ClaimWGKey.String())
	assert.Equal(t, "ED25519", reid.KeyEd25519.String())
	assert.Equal(t, "IPADDR", reid.AnchorIPAddr.String())
	assert.Equal(t, "AnchorType(9)", reid.AnchorType(9).String())

	var at reid.AnchorType
	require.NoError(t, at.UnmarshalText([]byte("PHONE")))
	assert.Equal(t, reid.AnchorPhone, at)
	assert.Error(t, at.UnmarshalText([]byte("phone")))

	_, err := reid.ClaimType(42).MarshalText()
	assert.Error(t, err)
}
