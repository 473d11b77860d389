package catalog

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DistributorCode identifies a source website.
type DistributorCode int

// Known distributors. Values are part of the wire format.
const (
	OsmoseProductions DistributorCode = 1
	Drakkar           DistributorCode = 2
	BlackMetalVendor  DistributorCode = 3
	BlackMetalStore   DistributorCode = 4
	NapalmRecords     DistributorCode = 5
	SeasonOfMist      DistributorCode = 6
	ParagonRecords    DistributorCode = 7
)

var distributorNames = map[DistributorCode]string{
	OsmoseProductions: "OsmoseProductions",
	Drakkar:           "Drakkar",
	BlackMetalVendor:  "BlackMetalVendor",
	BlackMetalStore:   "BlackMetalStore",
	NapalmRecords:     "NapalmRecords",
	SeasonOfMist:      "SeasonOfMist",
	ParagonRecords:    "ParagonRecords",
}

// String returns the distributor name, or the number for unknown codes.
func (c DistributorCode) String() string {
	if name, ok := distributorNames[c]; ok {
		return name
	}
	return strconv.Itoa(int(c))
}

// Valid reports whether c is a known distributor.
func (c DistributorCode) Valid() bool {
	_, ok := distributorNames[c]
	return ok
}

// Key returns the partition key used on the message channel.
func (c DistributorCode) Key() string {
	return strconv.Itoa(int(c))
}

// ParseDistributorCode accepts either a distributor name (case-insensitive) or
// its numeric code.
func ParseDistributorCode(raw string) (DistributorCode, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.Atoi(raw); err == nil {
		code := DistributorCode(n)
		if !code.Valid() {
			return 0, fmt.Errorf("unknown distributor code %d", n)
		}
		return code, nil
	}
	for code, name := range distributorNames {
		if strings.EqualFold(name, raw) {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown distributor %q", raw)
}

// SessionStatus is the lifecycle state of a ParsingSession.
type SessionStatus string

// Session states. Transitions run Pending -> Processing -> Processed|Failed.
const (
	SessionPending    SessionStatus = "Pending"
	SessionProcessing SessionStatus = "Processing"
	SessionProcessed  SessionStatus = "Processed"
	SessionFailed     SessionStatus = "Failed"
)

// Terminal reports whether no further transition is allowed.
func (s SessionStatus) Terminal() bool {
	return s == SessionProcessed || s == SessionFailed
}

// Stage names the pipeline stage a session failed in.
type Stage string

// Pipeline stages recorded on failed sessions.
const (
	StageCrawl    Stage = "crawl"
	StagePaginate Stage = "paginate"
	StageParse    Stage = "parse"
	StagePublish  Stage = "publish"
	StageDeadline Stage = "deadline"
	StageCanceled Stage = "canceled"
)

// ParsingSession is the audit record for one crawl run of one distributor.
type ParsingSession struct {
	ID              string          `json:"id"`
	DistributorCode DistributorCode `json:"distributor_code"`
	Status          SessionStatus   `json:"status"`
	CreatedDate     time.Time       `json:"created_date"`
	ProcessedDate   *time.Time      `json:"processed_date,omitempty"`
	LastUpdateDate  time.Time       `json:"last_update_date"`
	FailedStage     Stage           `json:"failed_stage,omitempty"`
	ErrorKind       string          `json:"error_kind,omitempty"`
	ErrorText       string          `json:"error_text,omitempty"`
}

// SessionFilter narrows ListSessions results. Zero values match everything.
type SessionFilter struct {
	Status          SessionStatus
	DistributorCode DistributorCode
	Limit           int
}

// Matches reports whether s satisfies the filter (ignoring Limit).
func (f SessionFilter) Matches(s ParsingSession) bool {
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.DistributorCode != 0 && s.DistributorCode != f.DistributorCode {
		return false
	}
	return true
}

// MediaType is the physical format of a release.
type MediaType string

// Supported media types.
const (
	MediaCD   MediaType = "CD"
	MediaLP   MediaType = "LP"
	MediaTape MediaType = "Tape"
)

// ParseMediaType finds a CD, LP or TAPE keyword as a standalone word in free
// text. It returns "" when no keyword is present.
func ParseMediaType(text string) MediaType {
	upper := " " + strings.ToUpper(strings.TrimSpace(text)) + " "
	for _, candidate := range []struct {
		keyword string
		media   MediaType
	}{
		{"CD", MediaCD},
		{"LP", MediaLP},
		{"TAPE", MediaTape},
	} {
		if strings.Contains(upper, " "+candidate.keyword+" ") {
			return candidate.media
		}
	}
	return ""
}

// AlbumStatus is the stock status advertised by a distributor.
type AlbumStatus string

// Stock statuses.
const (
	AlbumNew      AlbumStatus = "New"
	AlbumRestock  AlbumStatus = "Restock"
	AlbumPreOrder AlbumStatus = "PreOrder"
)

// ParseAlbumStatus maps distributor stock labels to an AlbumStatus.
func ParseAlbumStatus(text string) AlbumStatus {
	switch strings.ToUpper(strings.TrimSpace(text)) {
	case "NEW":
		return AlbumNew
	case "RESTOCK":
		return AlbumRestock
	case "PREORDER", "PRE-ORDER":
		return AlbumPreOrder
	default:
		return ""
	}
}

// ListingItem references one album detail page found during pagination.
type ListingItem struct {
	URL       string
	BandName  string
	Title     string
	RawTitle  string
	Media     MediaType
	SourceURL string
}

// RawAlbumRecord holds parsed but unvalidated album fields.
type RawAlbumRecord struct {
	DistributorCode  DistributorCode `json:"distributorCode"`
	ParsingSessionID string          `json:"parsingSessionId"`
	BandName         string          `json:"bandName"`
	Name             string          `json:"name"`
	SKU              string          `json:"sku"`
	Price            float64         `json:"price"`
	Media            MediaType       `json:"media"`
	ImageURLs        []string        `json:"imageUrls"`
	PurchaseURL      string          `json:"purchaseUrl,omitempty"`
	ReleaseDate      time.Time       `json:"releaseDate,omitzero"`
	Genre            string          `json:"genre,omitempty"`
	Label            string          `json:"label,omitempty"`
	Press            string          `json:"press,omitempty"`
	Description      string          `json:"description,omitempty"`
	Status           AlbumStatus     `json:"status,omitempty"`
	CreatedDate      time.Time       `json:"createdDate"`
}

// AlbumParsedPublicationEvent announces a parsed batch stored in blob storage.
type AlbumParsedPublicationEvent struct {
	CreatedDate      time.Time       `json:"createdDate"`
	ParsingSessionID string          `json:"parsingSessionId"`
	DistributorCode  DistributorCode `json:"distributorCode"`
	StorageFilePaths []string        `json:"storageFilePaths"`
}

// AlbumProcessedPublicationEvent tells downstream consumers that catalog
// entries of a distributor changed.
type AlbumProcessedPublicationEvent struct {
	CreatedDate      time.Time       `json:"createdDate"`
	DistributorCode  DistributorCode `json:"distributorCode"`
	StorageFilePaths []string        `json:"storageFilePaths"`
}

// ProcessedStatus tracks what the last sync did to a catalog entry.
type ProcessedStatus string

// Catalog entry states.
const (
	ProcessedNew       ProcessedStatus = "New"
	ProcessedUpdated   ProcessedStatus = "Updated"
	ProcessedDeleted   ProcessedStatus = "Deleted"
	ProcessedPublished ProcessedStatus = "Published"
)

// AlbumProcessedEntity is the validated, normalized catalog entry.
type AlbumProcessedEntity struct {
	ID                string          `json:"id"`
	DistributorCode   DistributorCode `json:"distributorCode"`
	SKU               string          `json:"sku"`
	BandName          string          `json:"bandName"`
	Name              string          `json:"name"`
	RawName           string          `json:"rawName"`
	Price             float64         `json:"price"`
	Media             MediaType       `json:"media"`
	ImagePaths        []string        `json:"imagePaths"`
	ImageSourceURLs   []string        `json:"imageSourceUrls"`
	PurchaseURL       string          `json:"purchaseUrl,omitempty"`
	ReleaseDate       time.Time       `json:"releaseDate,omitzero"`
	Genre             string          `json:"genre,omitempty"`
	Label             string          `json:"label,omitempty"`
	Press             string          `json:"press,omitempty"`
	Description       string          `json:"description,omitempty"`
	Status            AlbumStatus     `json:"status,omitempty"`
	ParsingSessionID  string          `json:"parsingSessionId"`
	ProcessedStatus   ProcessedStatus `json:"processedStatus"`
	CreatedDate       time.Time       `json:"createdDate"`
	LastUpdateDate    time.Time       `json:"lastUpdateDate"`
	LastCheckedDate   time.Time       `json:"lastCheckedDate"`
	LastPublishedDate *time.Time      `json:"lastPublishedDate,omitempty"`
}

// FetchRequest describes a single page retrieval.
type FetchRequest struct {
	SessionID string
	URL       string
	UserAgent string
	Headers   http.Header
	Timeout   time.Duration
}

// FetchResponse is returned by Fetcher implementations.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	Strategy     string
}
