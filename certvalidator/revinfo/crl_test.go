package revinfo

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCRL(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	crl := ca.crlWith(t, baseTime, crlOptions{
		number:  17,
		entries: []x509.RevocationListEntry{revoked(42, baseTime.Add(-time.Hour), ReasonKeyCompromise)},
	})

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "DER", data: crl.Raw()},
		{name: "PEM", data: pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crl.Raw()})},
		{name: "PEM alternative type", data: pem.EncodeToMemory(&pem.Block{Type: "CRL", Bytes: crl.Raw()})},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := ParseCRL(tc.data)
			require.NoError(t, err)
			assert.Equal(t, crl.ID(), parsed.ID())
			assert.Equal(t, KindCRL, parsed.Kind())
			assert.True(t, baseTime.Equal(parsed.ThisUpdate()))
			require.NotNil(t, parsed.NextUpdate())
			assert.True(t, baseTime.Add(24*time.Hour).Equal(*parsed.NextUpdate()))
			assert.Equal(t, 0, big.NewInt(17).Cmp(parsed.CRLNumber()))
			assert.Equal(t, ca.cert.RawSubject, parsed.RawIssuer())
			assert.False(t, parsed.IsDelta())
			assert.False(t, parsed.IsIndirect())
		})
	}
}

func TestParseCRLErrors(t *testing.T) {
	_, err := ParseCRL([]byte("not a crl"))
	assert.ErrorIs(t, err, ErrMalformedEvidence)

	_, err = ParseCRL(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte{0x30, 0x00}}))
	assert.ErrorIs(t, err, ErrMalformedEvidence)
}

func TestCRLLookup(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	revokedAt := baseTime.Add(-time.Hour)
	crl := ca.crl(t, baseTime,
		revoked(42, revokedAt, ReasonKeyCompromise),
		revoked(43, revokedAt, ReasonUnspecified),
	)

	entry, ok := crl.Lookup(big.NewInt(42))
	require.True(t, ok)
	assert.Equal(t, ReasonKeyCompromise, entry.Reason)
	assert.True(t, revokedAt.Equal(entry.RevocationTime))

	entry, ok = crl.Lookup(big.NewInt(43))
	require.True(t, ok)
	assert.Equal(t, ReasonUnspecified, entry.Reason)

	_, ok = crl.Lookup(big.NewInt(99))
	assert.False(t, ok)

	assert.Len(t, crl.Entries(), 2)
}

func TestCRLExtensions(t *testing.T) {
	ca := newDefaultCA(t, "CA X")

	baseNumber, err := asn1.Marshal(big.NewInt(5))
	require.NoError(t, err)
	idp, err := asn1.Marshal(issuingDistributionPoint{IndirectCRL: true})
	require.NoError(t, err)

	delta := ca.crlWith(t, baseTime, crlOptions{
		number: 6,
		exts:   []pkix.Extension{{Id: oidDeltaCRLIndicator, Value: baseNumber}},
	})
	assert.True(t, delta.IsDelta())
	require.NotNil(t, delta.BaseCRLNumber())
	assert.Equal(t, int64(5), delta.BaseCRLNumber().Int64())

	indirect := ca.crlWith(t, baseTime, crlOptions{
		exts: []pkix.Extension{{Id: oidIssuingDistPoint, Value: idp}},
	})
	assert.True(t, indirect.IsIndirect())
	assert.False(t, indirect.IsDelta())
}

func TestEvidenceIDIsStable(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	crl := ca.crl(t, baseTime)

	again, err := ParseCRL(crl.Raw())
	require.NoError(t, err)
	assert.Equal(t, crl.ID(), again.ID())
	assert.Regexp(t, `^R-[0-9A-F]{64}$`, crl.ID())

	other := ca.crl(t, baseTime.Add(time.Hour))
	assert.NotEqual(t, crl.ID(), other.ID())
}
