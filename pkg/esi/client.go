// Package esi fetches killmails and name data from the EVE Swagger
// Interface, with zKillboard as the source of missing killmail hashes.
package esi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

const (
	DefaultBaseURL       = "https://esi.evetech.net/latest"
	DefaultZKillboardURL = "https://zkillboard.com"
	DefaultUserAgent     = "kill-radar/1.0 (github.com/hervehildenbrand/kill-radar)"
	DefaultTimeout       = 15 * time.Second
	DefaultMaxConcurrent = 20

	datasource = "?datasource=tranquility"
)

// SystemStore is a persistent L2 cache for system data.
type SystemStore interface {
	System(ctx context.Context, systemID int32) (models.SystemInfo, bool, error)
	PutSystem(ctx context.Context, info models.SystemInfo) error
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL       string
	ZKillboardURL string
	UserAgent     string
	Timeout       time.Duration
	MaxConcurrent int
}

// Client is a rate-limited ESI HTTP client.
type Client struct {
	http      *http.Client
	baseURL   string
	zkillURL  string
	userAgent string
	sem       chan struct{}
	group     singleflight.Group
	log       *logrus.Entry

	systems      sync.Map // int32 -> models.SystemInfo
	typeNames    sync.Map // int32 -> string
	corporations sync.Map // int32 -> models.Corporation
	alliances    sync.Map // int32 -> models.Alliance
	systemStore  SystemStore
}

// NewClient creates an ESI client. store may be nil.
func NewClient(opts Options, store SystemStore, log *logrus.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.ZKillboardURL == "" {
		opts.ZKillboardURL = DefaultZKillboardURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Client{
		http:        &http.Client{Timeout: opts.Timeout},
		baseURL:     opts.BaseURL,
		zkillURL:    opts.ZKillboardURL,
		userAgent:   opts.UserAgent,
		sem:         make(chan struct{}, opts.MaxConcurrent),
		log:         log.WithField("component", "esi"),
		systemStore: store,
	}
}

// Killmail fetches a killmail. An empty hash is looked up on zKillboard
// first.
func (c *Client) Killmail(ctx context.Context, killID int64, hash string) (*models.Killmail, error) {
	if hash == "" {
		h, err := c.KillHash(ctx, killID)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	var km models.Killmail
	url := fmt.Sprintf("%s/killmails/%d/%s/%s", c.baseURL, killID, hash, datasource)
	if err := c.getJSON(ctx, url, &km); err != nil {
		return nil, fmt.Errorf("fetch killmail %d: %w", killID, err)
	}
	return &km, nil
}

// KillHash asks zKillboard for the hash of a killmail.
func (c *Client) KillHash(ctx context.Context, killID int64) (string, error) {
	var entries []struct {
		KillmailID int64 `json:"killmail_id"`
		ZKB        struct {
			Hash string `json:"hash"`
		} `json:"zkb"`
	}
	url := fmt.Sprintf("%s/api/killID/%d/", c.zkillURL, killID)
	if err := c.getJSON(ctx, url, &entries); err != nil {
		return "", fmt.Errorf("fetch hash of kill %d: %w", killID, err)
	}
	if len(entries) == 0 || entries[0].ZKB.Hash == "" {
		return "", fmt.Errorf("hash of kill %d: %w", killID, models.ErrKillNotFound)
	}
	return entries[0].ZKB.Hash, nil
}

// System returns name and security status of a system.
// L1 memory, L2 store, L3 ESI.
func (c *Client) System(ctx context.Context, systemID int32) (models.SystemInfo, error) {
	if v, ok := c.systems.Load(systemID); ok {
		return v.(models.SystemInfo), nil
	}
	if c.systemStore != nil {
		info, ok, err := c.systemStore.System(ctx, systemID)
		if err != nil {
			c.log.WithError(err).WithField("system_id", systemID).Debug("System store lookup failed")
		} else if ok {
			c.systems.Store(systemID, info)
			return info, nil
		}
	}

	v, err, _ := c.group.Do("system:"+strconv.Itoa(int(systemID)), func() (interface{}, error) {
		var body struct {
			SystemID       int32   `json:"system_id"`
			Name           string  `json:"name"`
			SecurityStatus float64 `json:"security_status"`
		}
		url := fmt.Sprintf("%s/universe/systems/%d/%s", c.baseURL, systemID, datasource)
		if err := c.getJSON(ctx, url, &body); err != nil {
			return nil, fmt.Errorf("fetch system %d: %w", systemID, err)
		}
		info := models.SystemInfo{ID: systemID, Name: body.Name, SecurityStatus: body.SecurityStatus}
		if c.systemStore != nil {
			if err := c.systemStore.PutSystem(ctx, info); err != nil {
				c.log.WithError(err).WithField("system_id", systemID).Warn("Failed to cache system")
			} else if stored, ok, err := c.systemStore.System(ctx, systemID); err == nil && ok {
				info = stored
			}
		}
		c.systems.Store(systemID, info)
		return info, nil
	})
	if err != nil {
		return models.SystemInfo{}, err
	}
	return v.(models.SystemInfo), nil
}

// TypeName returns the name of an item type, e.g. a ship hull.
func (c *Client) TypeName(ctx context.Context, typeID int32) (string, error) {
	if v, ok := c.typeNames.Load(typeID); ok {
		return v.(string), nil
	}
	v, err, _ := c.group.Do("type:"+strconv.Itoa(int(typeID)), func() (interface{}, error) {
		var body struct {
			Name string `json:"name"`
		}
		url := fmt.Sprintf("%s/universe/types/%d/%s", c.baseURL, typeID, datasource)
		if err := c.getJSON(ctx, url, &body); err != nil {
			return nil, fmt.Errorf("fetch type %d: %w", typeID, err)
		}
		c.typeNames.Store(typeID, body.Name)
		return body.Name, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Corporation returns a corporation and, if it belongs to one, its alliance.
func (c *Client) Corporation(ctx context.Context, corpID int32) (models.Corporation, *models.Alliance, error) {
	corp, err := c.corporation(ctx, corpID)
	if err != nil {
		return models.Corporation{}, nil, err
	}
	if corp.AllianceID == nil {
		return corp, nil, nil
	}
	alliance, err := c.alliance(ctx, *corp.AllianceID)
	if err != nil {
		return models.Corporation{}, nil, err
	}
	return corp, &alliance, nil
}

func (c *Client) corporation(ctx context.Context, corpID int32) (models.Corporation, error) {
	if v, ok := c.corporations.Load(corpID); ok {
		return v.(models.Corporation), nil
	}
	v, err, _ := c.group.Do("corporation:"+strconv.Itoa(int(corpID)), func() (interface{}, error) {
		var corp models.Corporation
		url := fmt.Sprintf("%s/corporations/%d/%s", c.baseURL, corpID, datasource)
		if err := c.getJSON(ctx, url, &corp); err != nil {
			return nil, fmt.Errorf("fetch corporation %d: %w", corpID, err)
		}
		corp.ID = corpID
		c.corporations.Store(corpID, corp)
		return corp, nil
	})
	if err != nil {
		return models.Corporation{}, err
	}
	return v.(models.Corporation), nil
}

func (c *Client) alliance(ctx context.Context, allianceID int32) (models.Alliance, error) {
	if v, ok := c.alliances.Load(allianceID); ok {
		return v.(models.Alliance), nil
	}
	v, err, _ := c.group.Do("alliance:"+strconv.Itoa(int(allianceID)), func() (interface{}, error) {
		var alliance models.Alliance
		url := fmt.Sprintf("%s/alliances/%d/%s", c.baseURL, allianceID, datasource)
		if err := c.getJSON(ctx, url, &alliance); err != nil {
			return nil, fmt.Errorf("fetch alliance %d: %w", allianceID, err)
		}
		alliance.ID = allianceID
		c.alliances.Store(allianceID, alliance)
		return alliance, nil
	})
	if err != nil {
		return models.Alliance{}, err
	}
	return v.(models.Alliance), nil
}

// getJSON fetches a URL and decodes JSON into dst. A 404 maps to
// models.ErrNotFound; every other failure is transient.
func (c *Client) getJSON(ctx context.Context, url string, dst interface{}) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return models.Transient("GET "+url, ctx.Err())
	}
	defer func() { <-c.sem }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Transient("GET "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return models.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return models.Transient("GET "+url, fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return models.Transient("decode "+url, err)
	}
	return nil
}
