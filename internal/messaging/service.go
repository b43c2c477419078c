package messaging

import (
	"context"
	"fmt"
)

// ServiceProvider resolves service identifiers that match Route. A nil
// service with a nil error means the provider does not serve the id.
type ServiceProvider interface {
	Route() string
	GetService(ctx context.Context, serviceID string, params RouteParams, session *FrontendSession) (any, error)
}

// ServiceFunc is the function form of ServiceProvider.GetService.
type ServiceFunc func(ctx context.Context, serviceID string, params RouteParams, session *FrontendSession) (any, error)

// NewServiceProvider pairs a route pattern with a ServiceFunc.
func NewServiceProvider(route string, fn ServiceFunc) ServiceProvider {
	return &funcProvider{route: route, fn: fn}
}

// StaticService serves one fixed service object under route.
func StaticService(route string, service any) ServiceProvider {
	return NewServiceProvider(route, func(context.Context, string, RouteParams, *FrontendSession) (any, error) {
		return service, nil
	})
}

type funcProvider struct {
	route string
	fn    ServiceFunc
}

func (p *funcProvider) Route() string { return p.route }

func (p *funcProvider) GetService(ctx context.Context, serviceID string, params RouteParams, session *FrontendSession) (any, error) {
	return p.fn(ctx, serviceID, params, session)
}

// ServiceRegistry resolves service ids to service objects, trying global
// providers first and then the providers of the caller's session scope.
type ServiceRegistry struct {
	global   []routed[ServiceProvider]
	sessions *sessionRoutes[ServiceProvider]
}

// NewServiceRegistry compiles the global provider routes.
func NewServiceRegistry(providers ...ServiceProvider) (*ServiceRegistry, error) {
	global, err := compileRoutes(providers)
	if err != nil {
		return nil, fmt.Errorf("service registry: %w", err)
	}
	return &ServiceRegistry{
		global:   global,
		sessions: newSessionRoutes("service provider", (*SessionScope).ServiceProviders),
	}, nil
}

// GetService returns the first service yielded by a matching provider. Session
// providers are only consulted when session is non-nil. Provider failures are
// logged and skipped; if nothing yields a service the error is a
// *ServiceNotFoundError.
func (r *ServiceRegistry) GetService(ctx context.Context, serviceID string, session *FrontendSession) (any, error) {
	if svc := r.tryProviders(ctx, r.global, serviceID, session); svc != nil {
		return svc, nil
	}
	if session != nil {
		if svc := r.tryProviders(ctx, r.sessions.get(session), serviceID, session); svc != nil {
			return svc, nil
		}
	}
	return nil, &ServiceNotFoundError{ServiceID: serviceID}
}

func (r *ServiceRegistry) tryProviders(ctx context.Context, routes []routed[ServiceProvider], serviceID string, session *FrontendSession) any {
	for _, route := range routes {
		params, ok := route.matcher.Match(serviceID)
		if !ok {
			continue
		}
		svc, err := r.invoke(ctx, route, serviceID, params, session)
		if err != nil {
			routerLog.Error("Service provider %s failed for %s: %v", route.matcher.Pattern(), serviceID, err)
			continue
		}
		if svc != nil {
			return svc
		}
	}
	return nil
}

func (r *ServiceRegistry) invoke(ctx context.Context, route routed[ServiceProvider], serviceID string, params RouteParams, session *FrontendSession) (svc any, err error) {
	defer func() {
		if p := recover(); p != nil {
			svc = nil
			err = fmt.Errorf("provider panic: %v", p)
		}
	}()
	return route.target.GetService(ctx, serviceID, params, session)
}
