package models

import (
	"time"

	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
)

// JobStatus состояние асинхронного задания маркетплейса
type JobStatus string

const (
	JobSubmitted  JobStatus = "submitted"
	JobInProgress JobStatus = "in-progress"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
	JobTimedOut   JobStatus = "timed-out"
)

// IsTerminal сообщает, что задание больше не опрашивается
func (s JobStatus) IsTerminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobTimedOut
}

// ItemStatus итог обработки одного элемента пакета
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
)

// ItemResult результат по одному stock code
type ItemResult struct {
	StockCode string         `json:"stock_code"`
	Status    ItemStatus     `json:"status"`
	Kind      apperrors.Kind `json:"kind,omitempty"`
	// Reason причина отказа в формулировке маркетплейса
	Reason string `json:"reason,omitempty"`
}

// BatchJob непрозрачный дескриптор задания маркетплейса
type BatchJob struct {
	Marketplace  Marketplace `json:"marketplace"`
	ExternalID   string      `json:"external_id"`
	Kind         IntentKind  `json:"kind"`
	SubmittedAt  time.Time   `json:"submitted_at"`
	LastPolledAt time.Time   `json:"last_polled_at"`
	Status       JobStatus   `json:"status"`
	Polls        int         `json:"polls"`
	// Reason причина неуспеха задания целиком
	Reason string `json:"reason,omitempty"`
	// ErrKind вид ошибки, если задание завершилось без итогов по элементам
	ErrKind apperrors.Kind `json:"error_kind,omitempty"`
	Items   []ItemResult   `json:"items,omitempty"`
	// ItemKeys сопоставляет ключ элемента в ответе маркетплейса (barcode, messageId) со stock code
	ItemKeys map[string]string `json:"item_keys,omitempty"`
	// StockCodes stock codes, отправленные в задании, в порядке отправки
	StockCodes []string `json:"stock_codes,omitempty"`
}

// NewBatchJob создает задание в состоянии submitted
func NewBatchJob(m Marketplace, externalID string, kind IntentKind, stockCodes []string) BatchJob {
	return BatchJob{
		Marketplace: m,
		ExternalID:  externalID,
		Kind:        kind,
		SubmittedAt: time.Now(),
		Status:      JobSubmitted,
		ItemKeys:    make(map[string]string),
		StockCodes:  append([]string(nil), stockCodes...),
	}
}

// StockCodeFor возвращает stock code по ключу элемента маркетплейса
func (j BatchJob) StockCodeFor(key string) string {
	if sc, ok := j.ItemKeys[key]; ok {
		return sc
	}
	return key
}

// SubmitResult результат отправки: либо синхронные итоги по элементам, либо задания для опроса
type SubmitResult struct {
	Items []ItemResult
	Jobs  []BatchJob
}

// Async сообщает, что результат нужно получать опросом
func (r SubmitResult) Async() bool {
	return len(r.Jobs) > 0
}

// SyncResult конструктор синхронного результата
func SyncResult(items ...ItemResult) *SubmitResult {
	return &SubmitResult{Items: items}
}

// AsyncResult конструктор асинхронного результата
func AsyncResult(jobs ...BatchJob) *SubmitResult {
	return &SubmitResult{Jobs: jobs}
}
