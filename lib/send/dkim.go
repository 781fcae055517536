package send

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"
	"github.com/pkg/errors"
)

// DKIM signs outgoing messages on behalf of a domain.
type DKIM struct {
	Domain   string
	Selector string
	signer   crypto.Signer
}

// LoadDKIM reads a PEM encoded RSA or Ed25519 private key.
func LoadDKIM(domain, selector, keyPath string) (*DKIM, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, errors.Wrap(err, "ReadFile")
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM data", keyPath)
	}
	var signer crypto.Signer
	switch block.Type {
	case "RSA PRIVATE KEY":
		signer, err = x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		var key any
		key, err = x509.ParsePKCS8PrivateKey(block.Bytes)
		if err == nil {
			switch key := key.(type) {
			case *rsa.PrivateKey:
				signer = key
			case ed25519.PrivateKey:
				signer = key
			default:
				err = fmt.Errorf("unsupported key type %T", key)
			}
		}
	default:
		err = fmt.Errorf("unsupported PEM block %q", block.Type)
	}
	if err != nil {
		return nil, errors.Wrap(err, keyPath)
	}
	return NewDKIM(domain, selector, signer), nil
}

func NewDKIM(domain, selector string, signer crypto.Signer) *DKIM {
	return &DKIM{Domain: domain, Selector: selector, signer: signer}
}

// Sign prepends a DKIM-Signature header to msg.
func (d *DKIM) Sign(msg []byte) ([]byte, error) {
	var out bytes.Buffer
	err := dkim.Sign(&out, bytes.NewReader(msg), &dkim.SignOptions{
		Domain:   d.Domain,
		Selector: d.Selector,
		Signer:   d.signer,
	})
	if err != nil {
		return nil, errors.Wrap(err, "dkim.Sign")
	}
	return out.Bytes(), nil
}
