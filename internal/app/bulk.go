package app

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"checkin_messenger/internal/adapters/observability"
	"checkin_messenger/internal/domain"
)

type BulkConfig struct {
	Workers         int
	DefaultLanguage string
	GatewayTimeout  time.Duration
}

type BulkService struct {
	gateway   domain.MessagingGateway
	publisher domain.OutcomePublisher
	cfg       BulkConfig
}

func NewBulkService(gw domain.MessagingGateway, pub domain.OutcomePublisher, cfg BulkConfig) *BulkService {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "ro"
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 10 * time.Second
	}
	return &BulkService{gateway: gw, publisher: pub, cfg: cfg}
}

// ParsePhoneList splits free text on commas and whitespace, dropping empty
// tokens. Order and duplicates are preserved.
func ParsePhoneList(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// maxPhoneLine bounds one line of an uploaded list; a whole list may sit on
// one comma-separated line.
const maxPhoneLine = 10 << 20

// ReadPhoneList parses an uploaded line-delimited file with the same rules.
func ReadPhoneList(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxPhoneLine)
	for sc.Scan() {
		out = append(out, ParsePhoneList(sc.Text())...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read phone list: %w", err)
	}
	return out, nil
}

// RunBulk sends the job's template to every phone, one gateway call per entry.
// Input errors (no phones, no template, bad header) reject the whole job
// before any send. Blank entries are dropped; results keep the order of the
// remaining phones, duplicates included.
func (s *BulkService) RunBulk(ctx context.Context, job domain.BulkJob) (domain.BulkSummary, error) {
	phones := make([]string, 0, len(job.Phones))
	for _, p := range job.Phones {
		if p = strings.TrimSpace(p); p != "" {
			phones = append(phones, p)
		}
	}
	tmpl := strings.TrimSpace(job.Template)
	switch {
	case len(phones) == 0:
		observability.ObserveRun(FlowBulk, "rejected")
		return domain.BulkSummary{}, fmt.Errorf("%w: phone list is empty", domain.ErrInvalidInput)
	case tmpl == "":
		observability.ObserveRun(FlowBulk, "rejected")
		return domain.BulkSummary{}, fmt.Errorf("%w: template name is required", domain.ErrInvalidInput)
	}
	// would fail identically for every number
	if err := domain.ValidateHeader(job.Header); err != nil {
		observability.ObserveRun(FlowBulk, "rejected")
		return domain.BulkSummary{}, err
	}
	lang := strings.TrimSpace(job.Language)
	if lang == "" {
		lang = s.cfg.DefaultLanguage
	}

	jobID := uuid.NewString()
	lg := log.With().Str("run_id", jobID).Str("flow", FlowBulk).Str("template", tmpl).Logger()
	lg.Info().Int("phones", len(phones)).Str("header", string(job.Header.Kind())).Msg("bulk job starting")

	results := make([]domain.BulkResult, len(phones))
	sem := semaphore.NewWeighted(int64(s.cfg.Workers))
	var wg sync.WaitGroup
	for i, phone := range phones {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = domain.BulkResult{Phone: phone, Status: domain.BulkFailure, Message: "canceled before send"}
			continue
		}
		wg.Add(1)
		go func(i int, phone string) {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = s.sendOne(ctx, jobID, phone, tmpl, lang, job.Header)
		}(i, phone)
	}
	wg.Wait()

	sum := summarizeBulk(jobID, results)
	lg.Info().Int("sent", sum.Sent).Int("failed", sum.Failed).Msg("bulk job finished")
	if err := ctx.Err(); err != nil {
		observability.ObserveRun(FlowBulk, "canceled")
		return sum, err
	}
	observability.ObserveRun(FlowBulk, "ok")
	return sum, nil
}

func (s *BulkService) sendOne(ctx context.Context, jobID, phone, tmpl, lang string, h domain.HeaderSpec) domain.BulkResult {
	if ctx.Err() != nil {
		return domain.BulkResult{Phone: phone, Status: domain.BulkFailure, Message: "canceled before send"}
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.GatewayTimeout)
	defer cancel()

	res := domain.BulkResult{Phone: phone}
	receipt, err := s.gateway.Send(sctx, domain.OutboundMessage{To: phone, Template: tmpl, Language: lang, Header: h})
	if err != nil {
		log.Warn().Err(err).Str("run_id", jobID).Str("phone", phone).Msg("bulk send failed")
		res.Status, res.Message = domain.BulkFailure, err.Error()
	} else {
		res.Status, res.Message, res.ProviderMessageID = domain.BulkSuccess, "sent", receipt.ProviderMessageID
	}
	observability.ObserveDispatchItem(FlowBulk, string(res.Status))

	if s.publisher != nil {
		ev := domain.OutcomeEvent{
			RunID: jobID, Flow: FlowBulk, Phone: phone, Template: tmpl,
			Status: string(res.Status), Message: res.Message, At: time.Now().UTC(),
		}
		if err := s.publisher.PublishOutcome(context.WithoutCancel(ctx), ev); err != nil {
			log.Warn().Err(err).Str("run_id", jobID).Msg("publish outcome failed")
		}
	}
	return res
}
