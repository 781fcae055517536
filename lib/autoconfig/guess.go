package autoconfig

import (
	"context"
	"fmt"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

type portEncryption struct {
	port int
	enc  encryption
}

// guess tries the usual smtp and mail host names of domain with a TCP
// ping on the submission ports.
func (r *resolver) guess(ctx context.Context, domain string, result chan<- *Server) {
	defer log.PanicHandler()
	defer close(result)

	for _, subdomain := range []string{"smtp", "mail"} {
		host := subdomain + "." + domain
		for _, pe := range []portEncryption{
			{465, EncryptionTLS},
			{587, EncryptionSTARTTLS},
		} {
			if ctx.Err() != nil {
				return
			}
			c, err := r.dial("tcp", fmt.Sprintf("%s:%d", host, pe.port))
			if err != nil {
				continue
			}
			c.Close()
			result <- &Server{Encryption: pe.enc, Address: host, Port: pe.port}
			return
		}
	}
}
