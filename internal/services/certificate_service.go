package services

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	certificateAlgorithm = "RSA-PSS-SHA256"
	certificateVersion   = "1.0"
)

var ErrCertificateBody = errors.New("failed to assemble certificate body")

// SignatorySummary is one signer's entry in the certificate body.
type SignatorySummary struct {
	UserID        uint   `json:"user_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	SignedAt      string `json:"signed_at"`
	IPAddress     string `json:"ip_address"`
	UserAgentHash string `json:"user_agent_hash"`
	SignatureHash string `json:"signature_hash"`
}

// SignatureDetail is the technical record of one graphic signature.
type SignatureDetail struct {
	GraphicHash string `json:"graphic_hash"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Timestamp   string `json:"timestamp"`
}

// IntegrityChecks flags what was verified when the certificate was minted.
type IntegrityChecks struct {
	AllPointsSigned      bool `json:"all_points_signed"`
	DocumentHashVerified bool `json:"document_hash_verified"`
}

// CertificateBody is the signed payload. Its canonical JSON encoding (keys
// sorted, no extraneous whitespace) is the exact byte sequence covered by the
// cryptographic signature; verification re-derives the same bytes.
type CertificateBody struct {
	CertificateID string             `json:"certificate_id"`
	DocumentHash  string             `json:"document_hash"`
	CreatedAt     string             `json:"created_at"`
	Signatories   []SignatorySummary `json:"signatories"`
	Signatures    []SignatureDetail  `json:"signatures"`
	Integrity     IntegrityChecks    `json:"integrity"`
}

// SecureCertificate is the self-verifying attestation bundle. The keypair is
// minted per certificate and the private key discarded immediately after
// signing: the bundle proves its body was sealed by whoever held the key at
// minting time, nothing more. Trust derives from the document's audit trail,
// not from a chain.
type SecureCertificate struct {
	Certificate CertificateBody `json:"certificate"`
	Signature   string          `json:"signature"`  // hex RSA-PSS
	PublicKey   string          `json:"public_key"` // PEM
	Algorithm   string          `json:"algorithm"`
	Version     string          `json:"version"`
}

// CertificateInput is the completed signature set handed over by finalize.
type CertificateInput struct {
	DocumentHash string
	Signatories  []SignatorySummary
	Signatures   []SignatureDetail
	Integrity    IntegrityChecks
}

// CertificateService builds and verifies attestation bundles over completed
// signature sets.
type CertificateService struct {
	logger *zap.Logger
}

func NewCertificateService(logger *zap.Logger) *CertificateService {
	return &CertificateService{
		logger: logger.With(zap.String("service", "certificate_service")),
	}
}

// Issue mints a fresh RSA-2048 keypair, signs the canonical encoding of the
// certificate body with RSA-PSS under SHA-256 (MGF1/SHA-256, maximum salt)
// and packages body, hex signature, PEM public key, algorithm tag and format
// version. The private key never leaves this function.
func (cs *CertificateService) Issue(input CertificateInput) (*SecureCertificate, error) {
	certID := make([]byte, 16)
	if _, err := rand.Read(certID); err != nil {
		return nil, fmt.Errorf("failed to generate certificate id: %w", err)
	}

	body := CertificateBody{
		CertificateID: hex.EncodeToString(certID),
		DocumentHash:  input.DocumentHash,
		CreatedAt:     time.Now().Format(time.RFC3339),
		Signatories:   input.Signatories,
		Signatures:    input.Signatures,
		Integrity:     input.Integrity,
	}

	canonical, err := canonicalJSON(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCertificateBody, err)
	}

	privKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}

	digest := sha256.Sum256(canonical)
	sigBytes, err := rsa.SignPSS(rand.Reader, privKey, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign certificate: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&privKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	cert := &SecureCertificate{
		Certificate: body,
		Signature:   hex.EncodeToString(sigBytes),
		PublicKey:   string(pubPEM),
		Algorithm:   certificateAlgorithm,
		Version:     certificateVersion,
	}

	cs.logger.Info("Certificate issued",
		zap.String("certificate_id", body.CertificateID),
		zap.String("document_hash", input.DocumentHash[:8]+"..."),
		zap.Int("signatories", len(input.Signatories)))

	return cert, nil
}

// Verify re-derives the canonical body bytes and checks the PSS signature
// with the embedded public key. It returns false on any structural or
// cryptographic failure and never raises: false means "do not trust this
// artifact".
func (cs *CertificateService) Verify(cert *SecureCertificate) bool {
	if cert == nil || cert.Signature == "" || cert.PublicKey == "" {
		return false
	}

	canonical, err := canonicalJSON(cert.Certificate)
	if err != nil {
		return false
	}

	block, _ := pem.Decode([]byte(cert.PublicKey))
	if block == nil {
		return false
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false
	}
	pubKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return false
	}

	sigBytes, err := hex.DecodeString(cert.Signature)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(canonical)
	if err := rsa.VerifyPSS(pubKey, crypto.SHA256, digest[:], sigBytes, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	}); err != nil {
		return false
	}
	return true
}

// canonicalJSON serializes v with object keys sorted and no extraneous
// whitespace. The round trip through a generic value lets encoding/json sort
// the keys; the result is byte-identical across calls for the same input.
func canonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// GraphicHash is the SHA-256 over the stored graphic payloads of one
// signature, used in the certificate's technical detail.
func GraphicHash(svg, data string) string {
	sum := sha256.Sum256([]byte(svg + data))
	return hex.EncodeToString(sum[:])
}
