package enrichment

import (
	"context"

	"auth-security/internal/models"
)

// Enricher merges geo and user-agent metadata into a draft. It runs on the raw
// client address, before the normalizer masks it.
type Enricher struct {
	locator Locator
}

func NewEnricher(locator Locator) *Enricher {
	if locator == nil {
		locator = StaticLocator(UnknownLocation)
	}
	return &Enricher{locator: locator}
}

// Enrich sets country and city from the geo lookup, overriding any value the
// client sent, and adds platform and browser when they can be recognised.
func (e *Enricher) Enrich(ctx context.Context, draft *models.DraftEvent) {
	meta := make(map[string]string, len(draft.Metadata)+4)
	for k, v := range draft.Metadata {
		meta[k] = v
	}

	ip := ""
	if draft.IPAddress != nil {
		ip = *draft.IPAddress
	}
	loc := e.locator.Locate(ctx, ip)
	meta[models.MetaCountry] = loc.Country
	meta[models.MetaCity] = loc.City

	if draft.DeviceInfo != nil {
		if platform := ParsePlatform(*draft.DeviceInfo); platform != Unknown {
			meta[models.MetaPlatform] = platform
		}
		if browser := ParseBrowser(*draft.DeviceInfo); browser != Unknown {
			meta[models.MetaBrowser] = browser
		}
	}

	draft.Metadata = meta
}
