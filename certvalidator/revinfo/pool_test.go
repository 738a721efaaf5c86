package revinfo

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/goades/certvalidator"
)

func TestCRLPoolSelectsLatestValid(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	cert := ca.issue(t, 42)

	old := ca.crl(t, baseTime.Add(-48*time.Hour))
	mid := ca.crl(t, baseTime.Add(-24*time.Hour))
	sameTimeAsMid := ca.crlWith(t, baseTime.Add(-24*time.Hour), crlOptions{number: 99})
	newestBroken, err := ParseCRL(tamper(ca.crl(t, baseTime).Raw()))
	require.NoError(t, err)

	testCases := []struct {
		name     string
		crls     []*CRLEvidence
		expected *CRLEvidence
	}{
		{name: "fresher wins", crls: []*CRLEvidence{old, mid}, expected: mid},
		{name: "order does not matter", crls: []*CRLEvidence{mid, old}, expected: mid},
		{name: "tie keeps first", crls: []*CRLEvidence{old, mid, sameTimeAsMid}, expected: mid},
		{name: "tie keeps first reversed", crls: []*CRLEvidence{sameTimeAsMid, mid}, expected: sameTimeAsMid},
		{name: "invalid newest skipped", crls: []*CRLEvidence{newestBroken, old}, expected: old},
		{name: "empty pool"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pool := NewCRLPool(tc.crls, Config{})
			res, err := pool.FindEvidence(cert)
			require.NoError(t, err)
			if tc.expected == nil {
				assert.Nil(t, res)
				return
			}
			require.NotNil(t, res)
			assert.Equal(t, tc.expected.ID(), res.CRL.ID())
			assert.True(t, res.Validity.Valid)
		})
	}
}

func TestCRLPoolRevocationStatus(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	at := baseTime.Add(-time.Hour)
	crl := ca.crl(t, baseTime,
		revoked(42, at, ReasonKeyCompromise),
		revoked(43, at, ReasonRemoveFromCRL),
	)
	pool := NewCRLPool([]*CRLEvidence{crl}, Config{})

	testCases := []struct {
		serial int64
		status RevocationStatus
		reason *RevocationReason
	}{
		{serial: 42, status: StatusRevoked, reason: reasonPtr(ReasonKeyCompromise)},
		{serial: 43, status: StatusGood},
		{serial: 44, status: StatusGood},
	}

	for _, tc := range testCases {
		t.Run(big.NewInt(tc.serial).String(), func(t *testing.T) {
			res, err := pool.FindEvidence(ca.issue(t, tc.serial))
			require.NoError(t, err)
			require.NotNil(t, res)
			assert.Equal(t, tc.status, res.Status)
			if tc.reason == nil {
				assert.Nil(t, res.Entry)
				return
			}
			require.NotNil(t, res.Entry)
			assert.Equal(t, *tc.reason, res.Entry.Reason)
			assert.True(t, at.Equal(res.Entry.RevocationTime))
		})
	}
}

func reasonPtr(r RevocationReason) *RevocationReason { return &r }

func TestCRLPoolDeltaCRLs(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	cert := ca.issue(t, 42)

	baseNumber, err := asn1.Marshal(big.NewInt(1))
	require.NoError(t, err)
	full := ca.crl(t, baseTime.Add(-time.Hour))
	delta := ca.crlWith(t, baseTime, crlOptions{
		number:  2,
		entries: []x509.RevocationListEntry{revoked(42, baseTime, ReasonKeyCompromise)},
		exts:    []pkix.Extension{{Id: oidDeltaCRLIndicator, Value: baseNumber}},
	})

	res, err := NewCRLPool([]*CRLEvidence{full, delta}, Config{}).FindEvidence(cert)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, full.ID(), res.CRL.ID())
	assert.Equal(t, StatusGood, res.Status)

	res, err = NewCRLPool([]*CRLEvidence{full, delta}, Config{IncludeDeltaCRLs: true}).FindEvidence(cert)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, delta.ID(), res.CRL.ID())
	assert.Equal(t, StatusRevoked, res.Status)
}

func TestCRLPoolCachesValidityAcrossCertificates(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	crl := ca.crl(t, baseTime)

	metrics := NewMetrics(prometheus.NewRegistry())
	pool := NewCRLPool([]*CRLEvidence{crl}, Config{Metrics: metrics})

	first := ca.issue(t, 1)
	second := ca.issue(t, 2)
	for _, cert := range []*certvalidator.CertificateToken{first, second, first} {
		_, err := pool.FindEvidence(cert)
		require.NoError(t, err)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.validityChecks.WithLabelValues("CRL", "valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("crl_validity", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("crl_result", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.cacheLookups.WithLabelValues("crl_result", "miss")))
}

func TestCRLPoolAcceptsCAWithoutKeyUsage(t *testing.T) {
	legacy := newTestCA(t, "Legacy CA", 0)
	cert := legacy.issue(t, 42)
	crl := legacy.crl(t, baseTime, revoked(42, baseTime.Add(-time.Hour), ReasonKeyCompromise))

	res, err := NewCRLPool([]*CRLEvidence{crl}, Config{}).FindEvidence(cert)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, StatusRevoked, res.Status)
	assert.True(t, res.Validity.KeyUsageOK)
}

func TestCRLPoolRequiresIssuer(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	pool := NewCRLPool([]*CRLEvidence{ca.crl(t, baseTime)}, Config{})

	_, err := pool.FindEvidence(ca.issueUnlinked(t, 42, nil))
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestCRLPoolIsolatedFromCallerSlice(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	crls := []*CRLEvidence{ca.crl(t, baseTime)}
	pool := NewCRLPool(crls, Config{})
	crls[0] = nil

	require.Len(t, pool.CRLs(), 1)
	assert.NotNil(t, pool.CRLs()[0])
}

func TestOCSPPoolFindEvidence(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	other := newDefaultCA(t, "CA Y")
	cert := ca.issue(t, 42)

	older := ca.ocspResponse(t, cert, baseTime.Add(-time.Hour), ocspOptions{status: ocsp.Good})
	newer := ca.ocspResponse(t, cert, baseTime, ocspOptions{status: ocsp.Revoked, revokedAt: baseTime.Add(-time.Minute), reason: ReasonSuperseded, hash: crypto.SHA256})
	unknown := ca.ocspResponse(t, cert, baseTime.Add(time.Hour), ocspOptions{status: ocsp.Unknown})
	foreign := other.ocspResponse(t, other.issue(t, 42), baseTime.Add(time.Hour), ocspOptions{status: ocsp.Good})

	responder, key := ca.responder(t, true)
	delegated := ca.ocspResponse(t, cert, baseTime.Add(2*time.Hour), ocspOptions{status: ocsp.Good, responder: responder, signerKey: key, embedCerts: true})
	notEmbedded := ca.ocspResponse(t, cert, baseTime.Add(3*time.Hour), ocspOptions{status: ocsp.Good, responder: responder, signerKey: key})
	mixed := ca.multiResponse(t,
		testSingle{serial: 42, good: true, thisUpdate: baseTime.Add(-2 * time.Hour)},
		testSingle{serial: 42, unknown: true, thisUpdate: baseTime},
	)

	testCases := []struct {
		name      string
		responses []*OCSPEvidence
		expected  *OCSPEvidence
		status    RevocationStatus
	}{
		{name: "latest wins across hash algorithms", responses: []*OCSPEvidence{older, newer}, expected: newer, status: StatusRevoked},
		{name: "unknown status excluded", responses: []*OCSPEvidence{older, unknown}, expected: older, status: StatusGood},
		{name: "unknown entry beside a known one", responses: []*OCSPEvidence{mixed}, expected: mixed, status: StatusGood},
		{name: "other issuer ignored", responses: []*OCSPEvidence{foreign}},
		{name: "delegated responder", responses: []*OCSPEvidence{newer, delegated}, expected: delegated, status: StatusGood},
		{name: "responder certificate missing", responses: []*OCSPEvidence{notEmbedded, older}, expected: older, status: StatusGood},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pool := NewOCSPPool(tc.responses, Config{})
			res, err := pool.FindEvidence(cert, ca.tok)
			require.NoError(t, err)
			if tc.expected == nil {
				assert.Nil(t, res)
				return
			}
			require.NotNil(t, res)
			assert.Equal(t, tc.expected.ID(), res.Response.ID())
			assert.Equal(t, tc.status, res.Status())
			assert.True(t, res.Validity.Valid)
		})
	}
}

func TestOCSPPoolRequiresIssuer(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	cert := ca.issue(t, 42)
	pool := NewOCSPPool(nil, Config{})

	_, err := pool.FindEvidence(cert, nil)
	assert.ErrorIs(t, err, ErrIssuerUnknown)
}

func TestOCSPAttribution(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	other := newDefaultCA(t, "CA Y")
	cert := ca.issue(t, 42)
	resp := ca.ocspResponse(t, cert, baseTime, ocspOptions{status: ocsp.Good})
	single := resp.Responses()[0]

	assert.NoError(t, checkOCSPAttribution(resp, single, cert, ca.tok))

	err := checkOCSPAttribution(resp, single, cert, other.tok)
	var attrErr *EvidenceAttributionError
	require.ErrorAs(t, err, &attrErr)
	assert.Equal(t, resp.ID(), attrErr.EvidenceID)
	assert.ErrorIs(t, err, ErrIssuerMismatch)
}

func TestCRLAttribution(t *testing.T) {
	ca := newDefaultCA(t, "CA X")
	other := newDefaultCA(t, "CA Y")
	crl := ca.crl(t, baseTime)

	assert.NoError(t, checkCRLAttribution(crl, ca.cert.RawSubject))

	err := checkCRLAttribution(crl, other.cert.RawSubject)
	var attrErr *EvidenceAttributionError
	require.ErrorAs(t, err, &attrErr)
	assert.Contains(t, attrErr.EvidenceIssuer, "CA X")
	assert.Contains(t, attrErr.CertIssuer, "CA Y")
}
