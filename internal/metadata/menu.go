package metadata

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/fedipanel/internal/capability"
	"github.com/pitabwire/fedipanel/internal/navigation"
	"github.com/pitabwire/fedipanel/internal/observability"
	"github.com/pitabwire/fedipanel/model"
)

// MenuProvider serves the compiled navigation of a session: its sidebar,
// its route table, and resolution of client paths against that table.
type MenuProvider struct {
	resolver *capability.Resolver
	cache    *navigation.Cache
}

// NewMenuProvider creates a MenuProvider. The cache holds the current
// navigation declaration and is replaced when definitions reload.
func NewMenuProvider(resolver *capability.Resolver, cache *navigation.Cache) *MenuProvider {
	return &MenuProvider{resolver: resolver, cache: cache}
}

// compiled returns the navigation compiled for the session's effective
// roles.
func (p *MenuProvider) compiled(ctx context.Context, sess *model.Session) (*navigation.Compiled, error) {
	roles := p.resolver.Resolve(sess)

	_, span := observability.StartSpan(ctx, "navigation.compile",
		observability.AttrSessionID.String(sessionID(sess)),
		observability.AttrRoles.String(strings.Join(roles, ",")),
	)
	c, err := p.cache.Get(roles)
	observability.EndSpanWithError(span, err)
	if err != nil {
		// Declarations are validated by a trial compile before they are
		// swapped in, so this is a programming error.
		observability.LoggerFrom(ctx, zap.L()).Error("metadata: compiling navigation", zap.Error(err))
		return nil, model.NewInternalError()
	}
	return c, nil
}

// GetNavigation returns the sidebar and route table for the session.
func (p *MenuProvider) GetNavigation(ctx context.Context, sess *model.Session) (model.NavigationResponse, error) {
	c, err := p.compiled(ctx, sess)
	if err != nil {
		return model.NavigationResponse{}, err
	}
	resp := model.NavigationResponse{Sidebar: c.Sidebar, Routes: c.Routes}
	if resp.Sidebar == nil {
		resp.Sidebar = []model.SidebarNode{}
	}
	if resp.Routes == nil {
		resp.Routes = []model.RouteEntry{}
	}
	return resp, nil
}

// GetRoutes returns only the route table.
func (p *MenuProvider) GetRoutes(ctx context.Context, sess *model.Session) ([]model.RouteEntry, error) {
	nav, err := p.GetNavigation(ctx, sess)
	if err != nil {
		return nil, err
	}
	return nav.Routes, nil
}

// Resolve matches path against the session's route table. Paths the session
// cannot reach are reported as not found.
func (p *MenuProvider) Resolve(ctx context.Context, sess *model.Session, path string) (model.RouteMatch, error) {
	c, err := p.compiled(ctx, sess)
	if err != nil {
		return model.RouteMatch{}, err
	}
	m, ok := c.Match(path)
	if !ok {
		return model.RouteMatch{}, model.NewNotFoundError(fmt.Sprintf("no route matches %q", path))
	}
	return m, nil
}

// Replace swaps the navigation declaration and drops every compiled entry.
func (p *MenuProvider) Replace(decl []model.NavigationDefinition) {
	p.cache.Replace(decl)
}
