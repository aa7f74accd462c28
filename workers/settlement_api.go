// workers/settlement_api.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"settlement-mirror-system/models"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DirectoryMode selects how much of the remote settlement population a
// directory fetch covers.
type DirectoryMode string

const (
	DirectoryModeFull        DirectoryMode = "full"
	DirectoryModeIncremental DirectoryMode = "incremental"
)

const (
	directoryPageSize = 100
	// Hard stop for full enumeration so a misbehaving remote pager can
	// never spin us forever.
	directoryMaxPages = 200
)

// DirectoryResult is a normalized directory fetch. Records carry parsed,
// strongly typed fields; anything the remote sent in a shape we could
// not use is reported in Warnings instead of leaking past this boundary.
type DirectoryResult struct {
	Settlements []models.MirroredSettlement
	TotalFound  int
	QueriesUsed []string
	Warnings    []string
}

// RosterResult is a normalized per-settlement roster fetch.
type RosterResult struct {
	Members  []models.MirroredMember
	Warnings []string
}

// CitizensResult is a normalized per-settlement citizen fetch. SkillNames
// carries whatever skillId → name pairs the payload happened to include.
type CitizensResult struct {
	Citizens   []models.MirroredCitizen
	SkillNames map[string]string
	Warnings   []string
}

// BalanceResult is one treasury reading.
type BalanceResult struct {
	Balance   int64
	Supplies  int64
	Tier      int
	TileCount int
}

// SettlementAPIClient wraps the third-party settlement-data API. It does
// no retrying of its own — a failed call surfaces as an error and the
// caller's next scheduled tick is the retry.
type SettlementAPIClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewSettlementAPIClient(baseURL, token string) *SettlementAPIClient {
	return &SettlementAPIClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- wire shapes (never exported past this package) ---

type settlementPayload struct {
	EntityID        string  `json:"entityId"`
	Name            string  `json:"name"`
	Tier            int     `json:"tier"`
	Treasury        string  `json:"treasury"` // remote encodes balances as strings
	Supplies        int64   `json:"supplies"`
	TileCount       int     `json:"tileCount"`
	Population      int     `json:"population"`
	Region          string  `json:"region"`
	LocationX       int     `json:"locationX"`
	LocationZ       int     `json:"locationZ"`
	OwnerEntityID   string  `json:"ownerEntityId"`
	OwnerName       string  `json:"ownerName"`
	ResearchTier    int     `json:"researchTier"`
	CurrentResearch string  `json:"currentResearch"`
	LastActiveAt    *string `json:"lastActiveAt,omitempty"`
}

type directoryPage struct {
	Settlements []settlementPayload `json:"settlements"`
	Total       int                 `json:"total"`
}

type memberPayload struct {
	EntityID    string  `json:"entityId"`
	UserName    string  `json:"userName"`
	CanInvite   bool    `json:"inventoryPermission"`
	CanKick     bool    `json:"kickPermission"`
	IsOfficer   bool    `json:"officerPermission"`
	IsCoOwner   bool    `json:"coOwnerPermission"`
	JoinedAt    *string `json:"joinedAt,omitempty"`
	LastLoginAt *string `json:"lastLoginTimestamp,omitempty"`
}

type citizenPayload struct {
	EntityID     string         `json:"entityId"`
	UserName     string         `json:"userName"`
	Skills       map[string]int `json:"skills"`
	TotalSkills  int            `json:"totalSkills"`
	HighestLevel int            `json:"highestLevel"`
	TotalXP      int64          `json:"totalXP"`
}

type rosterResponse struct {
	Members []memberPayload `json:"members"`
}

type citizensResponse struct {
	Citizens   []citizenPayload  `json:"citizens"`
	SkillNames map[string]string `json:"skillNames"`
}

type balanceResponse struct {
	Balance   string `json:"balance"`
	Supplies  int64  `json:"supplies"`
	Tier      int    `json:"tier"`
	TileCount int    `json:"tileCount"`
}

// --- fetch calls ---

// FetchDirectory enumerates the remote settlement directory. Full mode
// pages through the whole population in name order; incremental mode
// grabs a bounded prefix ordered by most recent activity, trading
// completeness for API economy.
func (c *SettlementAPIClient) FetchDirectory(ctx context.Context, mode DirectoryMode, incrementalCap int) (*DirectoryResult, error) {
	result := &DirectoryResult{}
	if mode == DirectoryModeIncremental {
		query := fmt.Sprintf("limit=%d&sort=-lastActive", incrementalCap)
		page, err := c.getDirectoryPage(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("incremental directory fetch failed: %w", err)
		}
		result.QueriesUsed = append(result.QueriesUsed, query)
		result.TotalFound = len(page.Settlements)
		c.appendNormalized(result, page.Settlements)
		return result, nil
	}

	for pageNum := 1; pageNum <= directoryMaxPages; pageNum++ {
		query := fmt.Sprintf("page=%d&perPage=%d&sort=name", pageNum, directoryPageSize)
		page, err := c.getDirectoryPage(ctx, query)
		if err != nil {
			// A partial enumeration must not look like a complete one:
			// the whole attempt fails so no deactivation runs on it.
			return nil, fmt.Errorf("full directory fetch failed on %s: %w", query, err)
		}
		result.QueriesUsed = append(result.QueriesUsed, query)
		if len(page.Settlements) == 0 {
			break
		}
		result.TotalFound += len(page.Settlements)
		c.appendNormalized(result, page.Settlements)
		if len(page.Settlements) < directoryPageSize {
			break
		}
	}
	return result, nil
}

// FetchRoster returns the member roster for one settlement.
func (c *SettlementAPIClient) FetchRoster(ctx context.Context, settlementID string) (*RosterResult, error) {
	var resp rosterResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/settlements/%s/members", url.PathEscape(settlementID)), "", &resp); err != nil {
		return nil, fmt.Errorf("roster fetch for settlement %s failed: %w", settlementID, err)
	}

	result := &RosterResult{}
	for _, m := range resp.Members {
		if m.EntityID == "" {
			result.Warnings = append(result.Warnings, "member with empty entityId dropped")
			log.Printf("[API] ⚠️ Dropping roster entry with no entityId (settlement=%s, user=%q)", settlementID, m.UserName)
			continue
		}
		result.Members = append(result.Members, models.MirroredMember{
			SettlementID: settlementID,
			EntityID:     m.EntityID,
			UserName:     m.UserName,
			CanInvite:    m.CanInvite,
			CanKick:      m.CanKick,
			IsOfficer:    m.IsOfficer,
			IsCoOwner:    m.IsCoOwner,
			JoinedAt:     parseRemoteTime(m.JoinedAt),
			LastLoginAt:  parseRemoteTime(m.LastLoginAt),
			SyncSource:   models.SyncSourceExternalAPI,
		})
	}
	return result, nil
}

// FetchCitizens returns citizen skill sheets plus any skill names the
// payload carried.
func (c *SettlementAPIClient) FetchCitizens(ctx context.Context, settlementID string) (*CitizensResult, error) {
	var resp citizensResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/settlements/%s/citizens", url.PathEscape(settlementID)), "", &resp); err != nil {
		return nil, fmt.Errorf("citizens fetch for settlement %s failed: %w", settlementID, err)
	}

	result := &CitizensResult{SkillNames: resp.SkillNames}
	if result.SkillNames == nil {
		result.SkillNames = map[string]string{}
	}
	for _, cz := range resp.Citizens {
		if cz.EntityID == "" {
			result.Warnings = append(result.Warnings, "citizen with empty entityId dropped")
			log.Printf("[API] ⚠️ Dropping citizen entry with no entityId (settlement=%s, user=%q)", settlementID, cz.UserName)
			continue
		}
		skills := cz.Skills
		if skills == nil {
			skills = map[string]int{}
		}
		result.Citizens = append(result.Citizens, models.MirroredCitizen{
			SettlementID: settlementID,
			EntityID:     cz.EntityID,
			UserName:     cz.UserName,
			Skills:       skills,
			TotalSkills:  cz.TotalSkills,
			HighestLevel: cz.HighestLevel,
			TotalXP:      cz.TotalXP,
			SyncSource:   models.SyncSourceExternalAPI,
		})
	}
	return result, nil
}

// FetchBalance reads one settlement's current treasury state.
func (c *SettlementAPIClient) FetchBalance(ctx context.Context, settlementID string) (*BalanceResult, error) {
	var resp balanceResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v1/settlements/%s/treasury", url.PathEscape(settlementID)), "", &resp); err != nil {
		return nil, fmt.Errorf("balance fetch for settlement %s failed: %w", settlementID, err)
	}

	balance, ok := parseRemoteInt(resp.Balance)
	if !ok {
		log.Printf("[API] ⚠️ Unparseable treasury balance %q for settlement %s, defaulting to 0", resp.Balance, settlementID)
		balance = 0
	}
	return &BalanceResult{
		Balance:   balance,
		Supplies:  resp.Supplies,
		Tier:      resp.Tier,
		TileCount: resp.TileCount,
	}, nil
}

// --- normalization helpers ---

var regionCaser = cases.Title(language.English)

func (c *SettlementAPIClient) appendNormalized(result *DirectoryResult, payloads []settlementPayload) {
	for _, p := range payloads {
		if p.EntityID == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("settlement %q has no entityId, dropped", p.Name))
			log.Printf("[API] ⚠️ Dropping directory entry with no entityId (name=%q)", p.Name)
			continue
		}
		balance, ok := parseRemoteInt(p.Treasury)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("settlement %s: unparseable treasury %q, defaulted to 0", p.EntityID, p.Treasury))
			log.Printf("[API] ⚠️ Unparseable treasury %q for settlement %s, defaulting to 0", p.Treasury, p.EntityID)
			balance = 0
		}
		result.Settlements = append(result.Settlements, models.MirroredSettlement{
			RemoteID:           p.EntityID,
			Name:               p.Name,
			Slug:               slug.Make(p.Name),
			Tier:               p.Tier,
			TreasuryBalance:    balance,
			Supplies:           p.Supplies,
			TileCount:          p.TileCount,
			PopulationEstimate: p.Population,
			Region:             regionCaser.String(p.Region),
			LocationX:          p.LocationX,
			LocationZ:          p.LocationZ,
			OwnerEntityID:      p.OwnerEntityID,
			OwnerName:          p.OwnerName,
			ResearchTier:       p.ResearchTier,
			CurrentResearch:    p.CurrentResearch,
			LastRemoteActivity: parseRemoteTime(p.LastActiveAt),
			SyncSource:         models.SyncSourceExternalAPI,
		})
	}
}

// parseRemoteInt handles the remote habit of sending numerics as
// strings. Empty string parses as 0 without a warning.
func parseRemoteInt(raw string) (int64, bool) {
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseRemoteTime(raw *string) *time.Time {
	if raw == nil || *raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil
	}
	return &t
}

// --- HTTP plumbing ---

func (c *SettlementAPIClient) getDirectoryPage(ctx context.Context, rawQuery string) (*directoryPage, error) {
	var page directoryPage
	if err := c.getJSON(ctx, "/api/v1/settlements", rawQuery, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *SettlementAPIClient) getJSON(ctx context.Context, path, rawQuery string, out interface{}) error {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid settlement API base URL '%s': %w", c.BaseURL, err)
	}
	endpoint := base.JoinPath(path)
	endpoint.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("X-Service-Token", c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("settlement API request failed: %w", err)
	}
	defer func() {
		// Always drain & close to prevent connection leaks
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("settlement API returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode settlement API response: %w", err)
	}
	return nil
}
