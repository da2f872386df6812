package tls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"

	"github.com/saiset-co/sai-scheduler/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

var defaultCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// CertManager serves TLS either from static cert/key files or via ACME
// autocert with a disk cache and periodic renewal checks.
type CertManager struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *types.TLSConfig
	autocertMgr     *autocert.Manager
	renewalTicker   *time.Ticker
	stopCh          chan struct{}
	mu              sync.RWMutex
	certificates    map[string]*tls.Certificate
	state           atomic.Value
	renewalInterval time.Duration
}

func NewCertManager(ctx context.Context, logger types.Logger, config types.ConfigManager) (types.TLSManager, error) {
	serverConfig := config.GetConfig().Server
	if serverConfig == nil || serverConfig.TLS == nil {
		return nil, types.NewErrorf("tls configuration missing")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	cm := &CertManager{
		ctx:             managerCtx,
		cancel:          cancel,
		logger:          logger,
		config:          serverConfig.TLS,
		stopCh:          make(chan struct{}),
		certificates:    make(map[string]*tls.Certificate),
		renewalInterval: 12 * time.Hour,
	}

	cm.state.Store(StateStopped)

	if cm.config.AutoCert {
		if err := cm.initializeAutocert(); err != nil {
			cancel()
			return nil, types.WrapError(err, "failed to initialize autocert manager")
		}
	}

	return cm, nil
}

func (cm *CertManager) Serve(addr string) (net.Listener, error) {
	if !cm.IsRunning() {
		return nil, types.ErrServerNotRunning
	}

	if cm.config.AutoCert {
		tlsConfig := cm.GetTLSConfig()
		if tlsConfig == nil {
			return nil, types.NewErrorf("autocert manager not initialized")
		}
		return tls.Listen("tcp", addr, tlsConfig)
	}

	if cm.config.CertFile == "" || cm.config.KeyFile == "" {
		return nil, types.NewErrorf("tls enabled but cert_file or key_file not specified")
	}

	cert, err := tls.LoadX509KeyPair(cm.config.CertFile, cm.config.KeyFile)
	if err != nil {
		return nil, types.WrapError(err, "failed to load certificate files")
	}

	if err := cm.validateCertificate(cert); err != nil {
		return nil, types.WrapError(err, "certificate validation failed")
	}

	tlsConfig := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: defaultCipherSuites,
		Certificates: []tls.Certificate{cert},
	}

	return tls.Listen("tcp", addr, tlsConfig)
}

func (cm *CertManager) GetTLSConfig() *tls.Config {
	if cm.autocertMgr == nil {
		return nil
	}

	return &tls.Config{
		GetCertificate: cm.autocertMgr.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CipherSuites:   defaultCipherSuites,
	}
}

func (cm *CertManager) Start() error {
	if !cm.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if cm.getState() == StateStarting {
			cm.setState(StateRunning)
		}
	}()

	if cm.config.AutoCert {
		cm.preloadCertificates()
		cm.startRenewalMonitor()
	}

	cm.logger.Info("TLS certificate manager started",
		zap.Strings("domains", cm.config.Domains))

	return nil
}

func (cm *CertManager) Stop() error {
	if !cm.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		cm.setState(StateStopped)
		cm.cancel()
	}()

	close(cm.stopCh)

	if cm.renewalTicker != nil {
		cm.renewalTicker.Stop()
	}

	cm.logger.Info("TLS certificate manager stopped gracefully")
	return nil
}

func (cm *CertManager) IsRunning() bool {
	return cm.getState() == StateRunning
}

func (cm *CertManager) getState() State {
	return cm.state.Load().(State)
}

func (cm *CertManager) setState(newState State) bool {
	currentState := cm.getState()
	return cm.state.CompareAndSwap(currentState, newState)
}

func (cm *CertManager) transitionState(from, to State) bool {
	return cm.state.CompareAndSwap(from, to)
}

func (cm *CertManager) validateCertificate(cert tls.Certificate) error {
	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return types.WrapError(err, "failed to parse certificate")
	}

	now := time.Now()
	if now.Before(x509Cert.NotBefore) {
		return types.NewErrorf("certificate not yet valid")
	}
	if now.After(x509Cert.NotAfter) {
		return types.NewErrorf("certificate expired")
	}

	return nil
}

func (cm *CertManager) initializeAutocert() error {
	if len(cm.config.Domains) == 0 {
		return types.NewErrorf("no domains specified for TLS certificate")
	}

	cacheDir := cm.config.CacheDir
	if cacheDir == "" {
		cacheDir = "./certs"
	}

	if err := os.MkdirAll(cacheDir, 0700); err != nil {
		return types.WrapError(err, "failed to create certificate cache directory")
	}

	cm.autocertMgr = &autocert.Manager{
		Cache:      autocert.DirCache(cacheDir),
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(cm.config.Domains...),
		Email:      cm.config.Email,
	}

	if cm.config.ACMEDirectory != "" {
		cm.autocertMgr.Client = &acme.Client{
			DirectoryURL: cm.config.ACMEDirectory,
		}
	}

	return nil
}

func (cm *CertManager) preloadCertificates() {
	for _, domain := range cm.config.Domains {
		hello := &tls.ClientHelloInfo{ServerName: domain}

		cert, err := cm.autocertMgr.GetCertificate(hello)
		if err != nil {
			cm.logger.Warn("Failed to preload certificate",
				zap.String("domain", domain),
				zap.Error(err))
			continue
		}

		cm.mu.Lock()
		cm.certificates[domain] = cert
		cm.mu.Unlock()

		cm.logger.Info("Certificate preloaded", zap.String("domain", domain))
	}
}

func (cm *CertManager) startRenewalMonitor() {
	cm.renewalTicker = time.NewTicker(cm.renewalInterval)

	go func() {
		defer cm.renewalTicker.Stop()

		for {
			select {
			case <-cm.renewalTicker.C:
				cm.checkCertificateRenewal()
			case <-cm.stopCh:
				return
			case <-cm.ctx.Done():
				return
			}
		}
	}()
}

func (cm *CertManager) checkCertificateRenewal() {
	if !cm.IsRunning() {
		return
	}

	cm.mu.RLock()
	domains := make([]string, 0, len(cm.certificates))
	for domain := range cm.certificates {
		domains = append(domains, domain)
	}
	cm.mu.RUnlock()

	for _, domain := range domains {
		x509Cert, err := cm.getCertificateInfo(domain)
		if err != nil {
			cm.logger.Error("Failed to get certificate info",
				zap.String("domain", domain),
				zap.Error(err))
			continue
		}

		renewalTime := x509Cert.NotAfter.Add(-30 * 24 * time.Hour)
		if !time.Now().After(renewalTime) {
			continue
		}

		cm.logger.Info("Certificate renewal required",
			zap.String("domain", domain),
			zap.Time("expires_at", x509Cert.NotAfter))

		newCert, err := cm.autocertMgr.GetCertificate(&tls.ClientHelloInfo{ServerName: domain})
		if err != nil {
			cm.logger.Error("Failed to renew certificate",
				zap.String("domain", domain),
				zap.Error(err))
			continue
		}

		cm.mu.Lock()
		cm.certificates[domain] = newCert
		cm.mu.Unlock()

		cm.logger.Info("Certificate renewed", zap.String("domain", domain))
	}
}

func (cm *CertManager) getCertificateInfo(domain string) (*x509.Certificate, error) {
	cm.mu.RLock()
	cert, exists := cm.certificates[domain]
	cm.mu.RUnlock()

	if !exists {
		return nil, types.NewErrorf("certificate not found for domain: %s", domain)
	}

	if len(cert.Certificate) == 0 {
		return nil, types.NewErrorf("no certificate data for domain: %s", domain)
	}

	x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return nil, types.WrapError(err, "failed to parse certificate")
	}

	return x509Cert, nil
}

func (cm *CertManager) GetCertificateStatus() map[string]types.CertificateStatus {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	status := make(map[string]types.CertificateStatus)

	for domain, cert := range cm.certificates {
		if len(cert.Certificate) == 0 {
			status[domain] = types.CertificateStatus{
				Domain: domain,
				Status: "error",
				Error:  "no certificate data",
			}
			continue
		}

		x509Cert, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			status[domain] = types.CertificateStatus{
				Domain: domain,
				Status: "error",
				Error:  err.Error(),
			}
			continue
		}

		certStatus := "valid"
		daysUntilExpiry := int(time.Until(x509Cert.NotAfter).Hours() / 24)

		if daysUntilExpiry <= 0 {
			certStatus = "expired"
		} else if daysUntilExpiry <= 30 {
			certStatus = "expiring_soon"
		}

		status[domain] = types.CertificateStatus{
			Domain:          domain,
			Status:          certStatus,
			Issuer:          x509Cert.Issuer.String(),
			Subject:         x509Cert.Subject.String(),
			NotBefore:       x509Cert.NotBefore,
			NotAfter:        x509Cert.NotAfter,
			DaysUntilExpiry: daysUntilExpiry,
		}
	}

	return status
}
