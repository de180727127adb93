// Package libvirt provides a build host backed by a libvirt domain.
package libvirt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	libvirt "libvirt.org/go/libvirt"

	"github.com/cochaviz/bitbuild/internal/build"
)

// Ensure DomainHost satisfies the build host interface.
var _ build.BuildHost = (*DomainHost)(nil)

// DefaultConnectURI is the system hypervisor connection.
const DefaultConnectURI = "qemu:///system"

// DomainHost is a build host running as a libvirt domain and reached over
// SSH. The domain is destroyed when the pipeline releases it.
type DomainHost struct {
	Logger     *slog.Logger
	ConnectURI string
	Domain     string
	Address    string
	Home       string

	// destroy and lookup are replaced in tests.
	destroy func(connectURI, domain string) error
	lookup  func(connectURI, domain string) (string, error)

	once sync.Once
	err  error
}

// NewDomainHost returns a DomainHost for the named domain.
func NewDomainHost(connectURI, domain, address, home string, logger *slog.Logger) *DomainHost {
	if connectURI == "" {
		connectURI = DefaultConnectURI
	}
	return &DomainHost{
		Logger:     logger,
		ConnectURI: connectURI,
		Domain:     domain,
		Address:    address,
		Home:       home,
	}
}

func (h *DomainHost) IsLocal() bool        { return false }
func (h *DomainHost) Identity() string     { return h.Address }
func (h *DomainHost) HomeOverride() string { return h.Home }

// Terminate destroys the domain. A domain that is already stopped or gone
// counts as released. Later calls return the first result.
func (h *DomainHost) Terminate(context.Context) error {
	h.once.Do(func() {
		logger := h.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Info("destroying build domain", "domain", h.Domain, "uri", h.ConnectURI)

		destroy := h.destroy
		if destroy == nil {
			destroy = destroyDomain
		}
		h.err = destroy(h.ConnectURI, h.Domain)
	})
	return h.err
}

// ResolveAddress fills in Address from the domain's DHCP leases when no
// address was configured.
func (h *DomainHost) ResolveAddress() (string, error) {
	if h.Address != "" {
		return h.Address, nil
	}
	lookup := h.lookup
	if lookup == nil {
		lookup = LookupAddress
	}
	address, err := lookup(h.ConnectURI, h.Domain)
	if err != nil {
		return "", fmt.Errorf("resolve address of domain %s: %w", h.Domain, err)
	}
	h.Address = address
	return address, nil
}

// LookupAddress returns the first IPv4 address leased to domain.
func LookupAddress(connectURI, domain string) (string, error) {
	conn, err := libvirt.NewConnect(connectURI)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	dom, err := conn.LookupDomainByName(domain)
	if err != nil {
		return "", err
	}
	defer dom.Free()

	ifaces, err := dom.ListAllInterfaceAddresses(libvirt.DOMAIN_INTERFACE_ADDRESSES_SRC_LEASE)
	if err != nil {
		return "", fmt.Errorf("list interface addresses: %w", err)
	}
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			if libvirt.IPAddrType(addr.Type) == libvirt.IP_ADDR_TYPE_IPV4 && addr.Addr != "" {
				return addr.Addr, nil
			}
		}
	}
	return "", fmt.Errorf("domain %s has no leased ipv4 address", domain)
}

func destroyDomain(connectURI, domain string) error {
	conn, err := libvirt.NewConnect(connectURI)
	if err != nil {
		return err
	}
	defer conn.Close()

	dom, err := conn.LookupDomainByName(domain)
	if err != nil {
		if isInLibvirtErrors(err, libvirt.ERR_NO_DOMAIN) {
			return nil
		}
		return err
	}
	defer dom.Free()

	active, err := dom.IsActive()
	if err != nil || !active {
		return err
	}
	if err := dom.Destroy(); err != nil {
		if !isInLibvirtErrors(err, libvirt.ERR_OPERATION_INVALID, libvirt.ERR_NO_DOMAIN) {
			return err
		}
	}
	return nil
}

func isInLibvirtErrors(err error, codes ...libvirt.ErrorNumber) bool {
	if err == nil {
		return false
	}

	var libErr libvirt.Error
	if !errors.As(err, &libErr) {
		return false
	}

	return slices.Contains(codes, libErr.Code)
}
