package enrichment

import (
	"fmt"
	"strings"

	"formbase/internal/api"
	"formbase/internal/services/locations"
	syncsvc "formbase/internal/services/sync"

	"go.uber.org/zap"
)

// orgUnitFields pulls everything the precedence chain can use in one call.
const orgUnitFields = "id,displayName,path,ancestors[displayName],parent[id,displayName]"

// RemoteOrgUnit is the DHIS2 response shape for an enrichment lookup.
type RemoteOrgUnit struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Path        string `json:"path"`
	Ancestors   []struct {
		DisplayName string `json:"displayName"`
	} `json:"ancestors"`
	Parent *struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"parent"`
}

// EnrichedOrgUnit is an organisation unit with a human-readable hierarchy
// breadcrumb, e.g. "National > Bo District > Bo CHC".
type EnrichedOrgUnit struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	HierarchyPath string `json:"hierarchy_path"`
	// Cached is set when the breadcrumb was resolved through the local
	// location cache (possibly supplemented by single-name lookups) rather
	// than inline remote ancestor metadata.
	Cached bool `json:"cached"`
}

// Service turns organisation-unit uids into display breadcrumbs. Name
// sources, in order of preference: the remote ancestors chain, the remote
// parent name, local path-segment resolution (with one backfill attempt for
// missing segments), and finally the unit's own display name.
type Service struct {
	resolver *api.Resolver
	store    *locations.Store
	sync     *syncsvc.Service
	logger   *zap.Logger
}

// NewService creates an enrichment service.
func NewService(resolver *api.Resolver, store *locations.Store, sync *syncsvc.Service, logger *zap.Logger) *Service {
	return &Service{resolver: resolver, store: store, sync: sync, logger: logger}
}

// EnrichOrgUnits resolves breadcrumbs for the given uids. Enrichment is best
// effort per unit: a unit whose lookups all fail still comes back, with its
// uid as the name.
func (s *Service) EnrichOrgUnits(instanceKey string, uids []string) ([]EnrichedOrgUnit, error) {
	client, err := s.resolver.ClientFor(instanceKey)
	if err != nil {
		return nil, err
	}

	enriched := make([]EnrichedOrgUnit, 0, len(uids))
	for _, uid := range uids {
		enriched = append(enriched, s.enrichOne(client, instanceKey, uid))
	}
	return enriched, nil
}

func (s *Service) enrichOne(client *api.Client, instanceKey, uid string) EnrichedOrgUnit {
	var unit RemoteOrgUnit
	endpoint := fmt.Sprintf("api/organisationUnits/%s.json", uid)
	if err := client.GetJSON(endpoint, map[string]string{"fields": orgUnitFields}, &unit); err != nil {
		s.logger.Warn("remote org unit lookup failed, falling back to local cache",
			zap.String("uid", uid), zap.Error(err))
		return s.enrichFromCache(client, instanceKey, uid)
	}

	name := unit.DisplayName
	if name == "" {
		name = uid
	}

	if len(unit.Ancestors) > 0 {
		parts := make([]string, 0, len(unit.Ancestors)+1)
		for _, a := range unit.Ancestors {
			if a.DisplayName != "" {
				parts = append(parts, a.DisplayName)
			}
		}
		parts = append(parts, name)
		return EnrichedOrgUnit{ID: uid, Name: name, HierarchyPath: strings.Join(parts, " > ")}
	}

	if unit.Parent != nil && unit.Parent.DisplayName != "" {
		return EnrichedOrgUnit{ID: uid, Name: name, HierarchyPath: unit.Parent.DisplayName + " > " + name}
	}

	if ancestorUIDs := ancestorSegments(unit.Path, uid); len(ancestorUIDs) > 0 {
		breadcrumb, cached := s.resolvePath(client, instanceKey, ancestorUIDs)
		if cached {
			return EnrichedOrgUnit{ID: uid, Name: name, HierarchyPath: breadcrumb + " > " + name, Cached: true}
		}
	}

	return EnrichedOrgUnit{ID: uid, Name: name, HierarchyPath: name}
}

// enrichFromCache builds the breadcrumb from cached location rows.
func (s *Service) enrichFromCache(client *api.Client, instanceKey, uid string) EnrichedOrgUnit {
	variants, err := s.store.FindByUID(instanceKey, uid)
	if err != nil || len(variants) == 0 {
		return EnrichedOrgUnit{ID: uid, Name: uid, HierarchyPath: uid}
	}

	loc := variants[0]
	if ancestorUIDs := ancestorSegments(loc.Path, uid); len(ancestorUIDs) > 0 {
		if breadcrumb, ok := s.resolvePath(client, instanceKey, ancestorUIDs); ok {
			return EnrichedOrgUnit{ID: uid, Name: loc.Name, HierarchyPath: breadcrumb + " > " + loc.Name, Cached: true}
		}
	}
	return EnrichedOrgUnit{ID: uid, Name: loc.Name, HierarchyPath: loc.Name, Cached: true}
}

// resolvePath maps ancestor uids to names via the location cache, with one
// backfill attempt for segments the cache has never seen. Segments still
// unresolved after the backfill go through the client's LRU display-name
// cache. Unresolvable segments keep their uid, and the breadcrumb counts as
// resolved when at least one segment got a name.
func (s *Service) resolvePath(client *api.Client, instanceKey string, ancestorUIDs []string) (string, bool) {
	names, err := s.store.UIDNameMap(instanceKey, ancestorUIDs)
	if err != nil {
		s.logger.Warn("local path resolution failed", zap.Error(err))
		return "", false
	}

	var missing []string
	for _, uid := range ancestorUIDs {
		if _, ok := names[uid]; !ok {
			missing = append(missing, uid)
		}
	}
	if len(missing) > 0 && s.sync != nil {
		if _, err := s.sync.BackfillUnits(instanceKey, missing); err != nil {
			s.logger.Warn("ancestor backfill failed", zap.Error(err))
		} else if refreshed, err := s.store.UIDNameMap(instanceKey, missing); err == nil {
			for uid, name := range refreshed {
				names[uid] = name
			}
		}
	}

	resolved := 0
	parts := make([]string, 0, len(ancestorUIDs))
	for _, uid := range ancestorUIDs {
		if name, ok := names[uid]; ok {
			parts = append(parts, name)
			resolved++
			continue
		}
		if client != nil {
			if name := client.GetOrgUnitName(uid); name != uid {
				parts = append(parts, name)
				resolved++
				continue
			}
		}
		parts = append(parts, uid)
	}
	return strings.Join(parts, " > "), resolved > 0
}

// ancestorSegments splits a materialized path like /A/B/C into the ancestor
// uids, dropping the unit's own trailing segment.
func ancestorSegments(path, ownUID string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) > 0 && segments[len(segments)-1] == ownUID {
		segments = segments[:len(segments)-1]
	}
	return segments
}
