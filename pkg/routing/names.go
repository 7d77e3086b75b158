package routing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

// SecurityLookup resolves the security class ("H", "L", "0.0", "C2", ...) of
// a system. Unknown systems return an error wrapping models.ErrNotFound.
type SecurityLookup interface {
	SecurityClass(ctx context.Context, systemID int32) (string, error)
}

// securityNames maps security classes to their short display form. Other
// classes (wormhole C1-C6 etc.) are shown verbatim.
var securityNames = map[string]string{
	"L":   "LS",
	"H":   "HS",
	"0.0": "NS",
}

// UnknownSecurity is shown for systems missing from the universe data.
const UnknownSecurity = "?"

// aliasPattern matches scout-style aliases: an optional dot, one letter, an
// optional J-code digit run, a space and a description ("a home",
// ".b static", "J105012 home"). Only the letter is kept.
var aliasPattern = regexp.MustCompile(`^\.?([a-zA-Z])[0-9]* \S`)

// RouteSeparator joins rendered hops for display.
const RouteSeparator = " -> "

// SecurityName maps a security class to its display form.
func SecurityName(class string) string {
	if name, ok := securityNames[class]; ok {
		return name
	}
	return class
}

// RenderName renders one hop from its security class and alias.
func RenderName(class, alias string) string {
	security := SecurityName(class)
	if alias == "" {
		return security
	}
	if m := aliasPattern.FindStringSubmatch(alias); m != nil {
		return security + "." + m[1]
	}
	return security + " " + alias
}

// RenderRouteNames renders every hop of route using the current aliases.
func (r *Router) RenderRouteNames(ctx context.Context, route []int32) ([]string, error) {
	if len(route) == 0 {
		return []string{}, nil
	}

	t := r.current.Load()
	names := make([]string, 0, len(route))
	for _, id := range route {
		class := UnknownSecurity
		if r.security != nil {
			c, err := r.security.SecurityClass(ctx, id)
			switch {
			case err == nil:
				class = c
			case errors.Is(err, models.ErrNotFound):
			default:
				return nil, fmt.Errorf("security class of %d: %w", id, err)
			}
		}
		names = append(names, RenderName(class, t.aliases[id]))
	}
	return names, nil
}

// FormatRoute joins rendered hops for display.
func FormatRoute(names []string) string {
	return strings.Join(names, RouteSeparator)
}
