package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Entity is a tracked listed company. ID is the six-digit exchange code.
type Entity struct {
	ID        string
	Name      string
	Market    string // "KOSPI" or "KOSDAQ"
	Sector    string
	CorpCode  string // eight-digit disclosure registry code, empty if unknown
	CreatedAt time.Time
}

// CollectionMetadata records how far collection has progressed for one entity.
type CollectionMetadata struct {
	EntityID                string
	LastObservedDate        *time.Time // nil until the first record is written
	LastCollectionTimestamp time.Time
}

// PriceRecord is one daily OHLCV row. Missing source values stay null.
type PriceRecord struct {
	EntityID  string
	Date      time.Time
	Open      decimal.NullDecimal
	High      decimal.NullDecimal
	Low       decimal.NullDecimal
	Close     decimal.NullDecimal
	Volume    sql.NullInt64
	ChangePct decimal.NullDecimal
}

type NewsArticle struct {
	URL            string
	EntityID       string
	EntityName     string
	Title          string
	Body           string
	Snippet        string
	SourceLabel    string
	PublishedAt    time.Time
	QualityScore   int
	SentimentScore sql.NullFloat64
	CollectedAt    time.Time
}

type Disclosure struct {
	ReceiptNo   string
	CorpCode    string
	CorpName    string
	StockCode   string
	ReportName  string
	FilerName   string
	ReceiptDate string // YYYYMMDD as published
	Remark      string
	CreatedAt   time.Time
}

// FinancialLine is one account line of a filed financial statement.
type FinancialLine struct {
	ReceiptNo     string
	CorpCode      string
	BusinessYear  string
	ReportCode    string
	StatementDiv  string // BS, IS, CIS, CF, SCE
	FSDiv         string // CFS or OFS
	AccountName   string
	Ord           int
	CurrentAmount string
	PriorAmount   string
	Currency      string
}

// Run is the persisted summary of one collection run.
type Run struct {
	ID           string
	Kind         string
	StartedAt    time.Time
	FinishedAt   time.Time
	Processed    int
	Succeeded    int
	SkippedFresh int
	Failed       int
	Rejected     int
	RateLimited  int
	Inserted     int
	Duplicates   int
}

// JobNewsSentiment is the job type that scores a stored article.
const JobNewsSentiment = "news_sentiment"

// SentimentPayload is the payload of a JobNewsSentiment job.
type SentimentPayload struct {
	URL string `json:"url"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
