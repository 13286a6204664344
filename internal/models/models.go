package models

import "time"

type GenerationStatus string

const (
	StatusWaitingPhotos    GenerationStatus = "WAITING_PHOTOS"
	StatusProcessingPhotos GenerationStatus = "PROCESSING_PHOTOS"
	StatusGeneratingImage  GenerationStatus = "GENERATING_IMAGE"
	StatusGeneratingVideo  GenerationStatus = "GENERATING_VIDEO"
	StatusCompleted        GenerationStatus = "COMPLETED"
	StatusError            GenerationStatus = "ERROR"
)

// ActiveStatuses lists the non-terminal stages in pipeline order.
var ActiveStatuses = []GenerationStatus{
	StatusWaitingPhotos,
	StatusProcessingPhotos,
	StatusGeneratingImage,
	StatusGeneratingVideo,
}

// Terminal reports whether a generation in this status is immutable history.
func (s GenerationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
)

type User struct {
	ID              int64
	TelegramID      int64
	Username        string
	FirstName       string
	LastName        string
	GenerationsUsed int
	PaidGenerations int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Generation struct {
	ID               string
	UserID           int64
	Status           GenerationStatus
	Photo1URL        string
	Photo2URL        string
	RomanticImageURL string
	VideoURL         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// GenerationPatch carries artifact URLs to persist together with a status
// transition. Nil fields are left untouched.
type GenerationPatch struct {
	Photo1URL        *string
	Photo2URL        *string
	RomanticImageURL *string
	VideoURL         *string
}

type Payment struct {
	ID                string
	UserID            int64
	Amount            int
	GenerationsCount  int
	Status            PaymentStatus
	ProviderPaymentID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UserStats is the quota summary shown to the user.
type UserStats struct {
	GenerationsUsed int
	PaidGenerations int
	TotalAllowed    int
}
