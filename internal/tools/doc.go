// Package tools declares the gateway's fixed catalog of intranet read operations.
//
// # Overview
//
// Every tool and resource maps onto one authenticated GET against the
// intranet REST API. Handlers build the request path and query, call the
// API client, and return the upstream JSON indented as the text payload.
// Nothing is reshaped; clients see what the intranet returned.
//
// # Tools
//
// Users:
//
//   - searchUsers: find users whose login matches a query (5 results)
//   - getUser: full profile for a login
//   - getUserProjects: project attempts, optionally filtered by status
//   - getUserCursus: cursus enrollments and levels
//   - getUserLocations: recent workstation sessions, newest first
//   - getUserCoalitions: coalition memberships
//
// Campuses:
//
//   - listCampuses: all campuses sorted by id
//   - getCampus: one campus by id
//   - getCampusEvents: upcoming and past events, newest first
//   - getCampusUsers: users attached to a campus
//
// Projects and cursus:
//
//   - getProject: one project by slug
//   - listCursus: all cursus
//   - getCursusProjects: projects of a cursus sorted by name
//
// # Resources
//
// Static: intra://campus and intra://cursus. Templates:
// intra://users/{login}, intra://campus/{campusId} and
// intra://projects/{slug}.
//
// # Usage
//
//	cat := catalog.New()
//	if err := tools.Register(cat, apiClient); err != nil {
//	    return err
//	}
package tools
