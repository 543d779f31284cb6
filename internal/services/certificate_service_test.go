package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testCertificateInput() CertificateInput {
	return CertificateInput{
		DocumentHash: "aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899",
		Signatories: []SignatorySummary{
			{
				UserID:        2,
				Name:          "Robert Dupont",
				Email:         "r.dupont@example.test",
				SignedAt:      "2026-03-01T12:00:00Z",
				IPAddress:     "192.0.2.10",
				UserAgentHash: "1f40fc92da241694750979ee6cf582f2d5d7d28e18335de05abc54d0560e0f53",
				SignatureHash: "0011223344556677",
			},
		},
		Signatures: []SignatureDetail{
			{GraphicHash: "abcdef0123456789", Width: 150, Height: 75, Timestamp: "2026-03-01T12:00:00Z"},
		},
		Integrity: IntegrityChecks{AllPointsSigned: true, DocumentHashVerified: true},
	}
}

func TestCertificateIssueAndVerify(t *testing.T) {
	svc := NewCertificateService(zap.NewNop())

	cert, err := svc.Issue(testCertificateInput())
	require.NoError(t, err)

	assert.Len(t, cert.Certificate.CertificateID, 32)
	assert.Equal(t, "RSA-PSS-SHA256", cert.Algorithm)
	assert.Equal(t, "1.0", cert.Version)
	assert.Contains(t, cert.PublicKey, "BEGIN PUBLIC KEY")
	assert.NotEmpty(t, cert.Signature)

	assert.True(t, svc.Verify(cert), "fresh certificate verifies with its own contents")
}

func TestCertificateVerifyDetectsTampering(t *testing.T) {
	svc := NewCertificateService(zap.NewNop())

	base, err := svc.Issue(testCertificateInput())
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(c *SecureCertificate)
	}{
		{
			name:   "document hash changed",
			mutate: func(c *SecureCertificate) { c.Certificate.DocumentHash = "0" + c.Certificate.DocumentHash[1:] },
		},
		{
			name:   "signatory renamed",
			mutate: func(c *SecureCertificate) { c.Certificate.Signatories[0].Name = "Quelqu'un D'Autre" },
		},
		{
			name:   "integrity flag flipped",
			mutate: func(c *SecureCertificate) { c.Certificate.Integrity.DocumentHashVerified = false },
		},
		{
			name: "signature corrupted",
			mutate: func(c *SecureCertificate) {
				if c.Signature[0] == '0' {
					c.Signature = "1" + c.Signature[1:]
				} else {
					c.Signature = "0" + c.Signature[1:]
				}
			},
		},
		{
			name:   "signature not hex",
			mutate: func(c *SecureCertificate) { c.Signature = "zz" + c.Signature[2:] },
		},
		{
			name:   "public key mangled",
			mutate: func(c *SecureCertificate) { c.PublicKey = "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----" },
		},
		{
			name:   "empty signature",
			mutate: func(c *SecureCertificate) { c.Signature = "" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Deep copy through JSON so mutations stay local to the case.
			raw, err := json.Marshal(base)
			require.NoError(t, err)
			var cert SecureCertificate
			require.NoError(t, json.Unmarshal(raw, &cert))

			tt.mutate(&cert)
			assert.False(t, svc.Verify(&cert))
		})
	}
}

func TestCertificateVerifyNil(t *testing.T) {
	svc := NewCertificateService(zap.NewNop())
	assert.False(t, svc.Verify(nil))
}

func TestCertificateSurvivesJSONRoundTrip(t *testing.T) {
	svc := NewCertificateService(zap.NewNop())

	cert, err := svc.Issue(testCertificateInput())
	require.NoError(t, err)

	// Re-encoded with different field ordering and indentation, the bundle
	// must still verify: the signature covers canonical bytes, not the
	// transport encoding.
	raw, err := json.MarshalIndent(cert, "", "    ")
	require.NoError(t, err)

	var restored SecureCertificate
	require.NoError(t, json.Unmarshal(raw, &restored))
	assert.True(t, svc.Verify(&restored))
}

func TestCanonicalJSONDeterministic(t *testing.T) {
	input := map[string]interface{}{
		"zeta":  1,
		"alpha": []string{"b", "a"},
		"mid":   map[string]int{"y": 2, "x": 1},
	}

	first, err := canonicalJSON(input)
	require.NoError(t, err)
	second, err := canonicalJSON(input)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, `{"alpha":["b","a"],"mid":{"x":1,"y":2},"zeta":1}`, string(first))
}

func TestGraphicHash(t *testing.T) {
	h1 := GraphicHash("<svg/>", "")
	h2 := GraphicHash("<svg/>", "")
	h3 := GraphicHash("<svg></svg>", "")

	assert.Len(t, h1, 64)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestCertificateIDsUnique(t *testing.T) {
	svc := NewCertificateService(zap.NewNop())

	a, err := svc.Issue(testCertificateInput())
	require.NoError(t, err)
	b, err := svc.Issue(testCertificateInput())
	require.NoError(t, err)

	assert.NotEqual(t, a.Certificate.CertificateID, b.Certificate.CertificateID)
	assert.NotEqual(t, a.PublicKey, b.PublicKey, "each certificate gets a fresh keypair")
}
