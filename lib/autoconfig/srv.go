package autoconfig

import (
	"context"
	"net"
	"sort"
	"strings"

	"git.sr.ht/~rjarry/composerd/lib/log"
)

// fromSRV uses the submission SRV records of domain (RFC 6186, RFC 8314).
// Implicit TLS is preferred over STARTTLS.
func (r *resolver) fromSRV(ctx context.Context, domain string, result chan<- *Server) {
	defer log.PanicHandler()
	defer close(result)

	for _, service := range []struct {
		name string
		enc  encryption
	}{
		{"submissions", EncryptionTLS},
		{"submission", EncryptionSTARTTLS},
	} {
		if ctx.Err() != nil {
			return
		}
		_, srvList, err := r.lookupSRV(service.name, "tcp", domain)
		if err != nil || len(srvList) == 0 {
			continue
		}
		srv := getHighestSRV(srvList)
		target := strings.TrimRight(srv.Target, ".")
		// "." means the service is not available
		if target == "" || srv.Port == 0 {
			continue
		}
		result <- &Server{Encryption: service.enc, Address: target, Port: int(srv.Port)}
		return
	}
}

func getHighestSRV(list []*net.SRV) *net.SRV {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Priority < list[j].Priority
	})

	best := 0
	for i := range list {
		if list[i].Priority != list[0].Priority {
			break
		}
		if list[i].Weight > list[best].Weight {
			best = i
		}
	}
	return list[best]
}
