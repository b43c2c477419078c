// Package appinfo serves metadata about the running application.
package appinfo

import (
	"github.com/codefionn/workbench/internal/config"
	"github.com/codefionn/workbench/internal/messaging"
)

// ServiceID is the id the service is registered under.
const ServiceID = "application"

// ApplicationInfo names the application and its version.
type ApplicationInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ExtensionInfo names an installed extension and its version.
type ExtensionInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Service answers application metadata queries.
type Service struct {
	id         string
	info       *ApplicationInfo
	extensions []ExtensionInfo
}

// NewService creates the service from the application config section.
func NewService(cfg config.ApplicationConfig) *Service {
	s := &Service{id: cfg.ID}
	if cfg.Name != "" && cfg.Version != "" {
		s.info = &ApplicationInfo{Name: cfg.Name, Version: cfg.Version}
	}
	s.extensions = make([]ExtensionInfo, 0, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		s.extensions = append(s.extensions, ExtensionInfo{Name: ext.Name, Version: ext.Version})
	}
	return s
}

// GetApplicationInfo returns nil when name or version is unknown.
func (s *Service) GetApplicationInfo() (*ApplicationInfo, error) {
	return s.info, nil
}

// GetExtensionsInfos returns the configured extensions.
func (s *Service) GetExtensionsInfos() ([]ExtensionInfo, error) {
	return s.extensions, nil
}

// GetApplicationId returns the configured application id, possibly empty.
func (s *Service) GetApplicationId() (string, error) {
	return s.id, nil
}

// Provider registers s under ServiceID.
func (s *Service) Provider() messaging.ServiceProvider {
	return messaging.StaticService(ServiceID, s)
}
