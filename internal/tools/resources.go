// ABOUTME: Static and templated intranet resources served through resources/list and resources/read.
// ABOUTME: Template variables are checked before they become upstream path segments.

package tools

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/2389/intra-gateway/internal/catalog"
	"github.com/2389/intra-gateway/internal/intra"
)

const jsonMIME = "application/json"

func (h *handlers) resources() []catalog.Resource {
	return []catalog.Resource{
		{
			URI:         "intra://campus",
			Name:        "campuses",
			Description: "All campuses, sorted by id",
			MIMEType:    jsonMIME,
			Handler: func(ctx context.Context, _ map[string]string) (string, error) {
				return h.fetch(ctx, "/v2/campus", intra.Query{}.PageSize(maxPageSize).Sort("id"))
			},
		},
		{
			URI:         "intra://cursus",
			Name:        "cursus",
			Description: "All cursus",
			MIMEType:    jsonMIME,
			Handler: func(ctx context.Context, _ map[string]string) (string, error) {
				return h.fetch(ctx, "/v2/cursus", intra.Query{}.PageSize(maxPageSize))
			},
		},
		{
			URITemplate: "intra://users/{login}",
			Name:        "user",
			Description: "A user's intranet profile",
			MIMEType:    jsonMIME,
			Handler: func(ctx context.Context, vars map[string]string) (string, error) {
				if !segmentRE.MatchString(vars["login"]) {
					return "", fmt.Errorf("invalid login %q", vars["login"])
				}
				return h.fetch(ctx, userPath(map[string]any{"login": vars["login"]}), intra.Query{})
			},
		},
		{
			URITemplate: "intra://campus/{campusId}",
			Name:        "campus",
			Description: "One campus by id",
			MIMEType:    jsonMIME,
			Handler: func(ctx context.Context, vars map[string]string) (string, error) {
				id, err := strconv.Atoi(vars["campusId"])
				if err != nil || id < 1 || id > math.MaxInt32 {
					return "", fmt.Errorf("invalid campus id %q", vars["campusId"])
				}
				return h.fetch(ctx, campusPath(id), intra.Query{})
			},
		},
		{
			URITemplate: "intra://projects/{slug}",
			Name:        "project",
			Description: "One project by slug",
			MIMEType:    jsonMIME,
			Handler: func(ctx context.Context, vars map[string]string) (string, error) {
				if !segmentRE.MatchString(vars["slug"]) {
					return "", fmt.Errorf("invalid project slug %q", vars["slug"])
				}
				return h.fetch(ctx, projectPath(vars["slug"]), intra.Query{})
			},
		},
	}
}
