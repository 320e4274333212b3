package tlsidentity

import (
	"context"
	"crypto/x509"

	"github.com/spiffe/go-spiffe/v2/svid/x509svid"

	"github.com/alien4cloud/search-guard-ssl/transport"
)

// Extension keys written by the bundled context hooks.
const (
	KeyPeerSPIFFEID transport.ContextKey = "peer_spiffe_id"
	KeyPeerRoles    transport.ContextKey = "peer_roles"
)

// SPIFFEIDHook stores the SPIFFE ID of the leaf certificate under KeyPeerSPIFFEID.
// Leaves without a SPIFFE URI SAN are left alone.
func SPIFFEIDHook() ContextHook {
	return func(_ context.Context, _ string, req transport.Request, chain []*x509.Certificate) error {
		id, err := x509svid.IDFromCert(chain[0])
		if err != nil {
			return nil
		}
		return req.RequestContext().Put(KeyPeerSPIFFEID, id.String())
	}
}

// RoleMappingHook maps the verified principal to roles and stores them under KeyPeerRoles.
// Unmapped principals get an empty role list.
func RoleMappingHook(roles map[string][]string) ContextHook {
	return func(_ context.Context, _ string, req transport.Request, _ []*x509.Certificate) error {
		principal, _ := req.RequestContext().PeerPrincipal()
		return req.RequestContext().Put(KeyPeerRoles, append([]string{}, roles[principal]...))
	}
}
