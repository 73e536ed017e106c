package router

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// LabelFailure is a record that never landed on any path.
type LabelFailure struct {
	Label PortLabel
	Err   error
}

// UploadResult reports the outcome of a label upload per record.
type UploadResult struct {
	Succeeded []PortLabel
	Failed    []LabelFailure
	// Unconfirmed lists records counted as succeeded although the device
	// never acknowledged them. It is a subset of Succeeded.
	Unconfirmed []PortLabel
}

func (r UploadResult) SucceededCount() int { return len(r.Succeeded) }
func (r UploadResult) FailedCount() int    { return len(r.Failed) }

// FailedPorts lists the ports of every failed record.
func (r UploadResult) FailedPorts() []PortRef {
	refs := make([]PortRef, 0, len(r.Failed))
	for _, f := range r.Failed {
		refs = append(refs, f.Label.Ref())
	}
	return refs
}

// Err returns an ErrPortOperation naming every failed port, or nil.
func (r UploadResult) Err(backend Kind) error {
	if len(r.Failed) == 0 {
		return nil
	}
	return NewError(ErrPortOperation, backend, "upload", fmt.Errorf("%d label(s) rejected", len(r.Failed)), r.FailedPorts()...)
}

func (r *UploadResult) merge(other UploadResult) {
	r.Succeeded = append(r.Succeeded, other.Succeeded...)
	r.Failed = append(r.Failed, other.Failed...)
	r.Unconfirmed = append(r.Unconfirmed, other.Unconfirmed...)
}

// PendingChanges keeps only records that should be submitted.
func PendingChanges(labels []PortLabel) []PortLabel {
	pending := make([]PortLabel, 0, len(labels))
	for _, l := range labels {
		if l.HasChange() {
			pending = append(pending, l)
		}
	}
	return pending
}

// labelExchange applies a set of label changes to one backend: a primary
// pass, then at most one batched retry of the records that failed.
type labelExchange struct {
	backend Backend
	info    DeviceInfo
	logger  zerolog.Logger
}

// validate rejects records the device cannot accept before any I/O.
func (x labelExchange) validate(l PortLabel) error {
	count := x.info.PortCount(l.Direction)
	if l.Port < 1 || l.Port > count {
		return NewError(ErrPortOperation, x.info.Kind, "upload", fmt.Errorf("port outside 1..%d", count), l.Ref())
	}
	if limit := x.info.MaxLabelLength; limit > 0 && utf8.RuneCountInString(l.Desired) > limit {
		return NewError(ErrPortOperation, x.info.Kind, "upload", fmt.Errorf("label longer than %d characters", limit), l.Ref())
	}
	return nil
}

// run returns the per-record result. A non-nil error means the call was cut
// short (cancellation or transport loss); the result still holds every
// record completed before that point.
func (x labelExchange) run(ctx context.Context, labels []PortLabel) (UploadResult, error) {
	var result UploadResult

	pending := make([]PortLabel, 0, len(labels))
	for _, l := range PendingChanges(labels) {
		if err := x.validate(l); err != nil {
			result.Failed = append(result.Failed, LabelFailure{Label: l, Err: err})
			continue
		}
		pending = append(pending, l)
	}
	if len(pending) == 0 {
		return result, nil
	}

	primary, fatal := x.primary(ctx, pending)
	retry := primary.Failed
	primary.Failed = nil
	result.merge(primary)

	if fatal != nil {
		result.Failed = append(result.Failed, retry...)
		return result, fatal
	}

	if len(retry) > 0 {
		recovered, failed := x.retry(ctx, retry)
		result.Succeeded = append(result.Succeeded, recovered...)
		retry = failed
	}
	result.Failed = append(result.Failed, retry...)

	x.logger.Info().
		Int("succeeded", result.SucceededCount()).
		Int("failed", result.FailedCount()).
		Int("unconfirmed", len(result.Unconfirmed)).
		Msg("Label upload finished")
	return result, ctx.Err()
}

func (x labelExchange) primary(ctx context.Context, pending []PortLabel) (UploadResult, error) {
	if bulk, ok := x.backend.(BulkUploader); ok {
		res, err := bulk.UploadLabels(ctx, pending)
		if err != nil {
			res.Failed = append(res.Failed, untouched(pending, res, err)...)
		}
		return res, fatalUploadError(ctx, err)
	}

	var res UploadResult
	for i, l := range pending {
		if err := ctx.Err(); err != nil {
			res.Failed = append(res.Failed, failAll(pending[i:], err)...)
			return res, err
		}
		err := x.backend.UploadLabel(ctx, l)
		if err == nil {
			res.Succeeded = append(res.Succeeded, l)
			continue
		}
		x.logger.Warn().Err(err).Stringer("port", l).Msg("Label upload failed")
		res.Failed = append(res.Failed, LabelFailure{Label: l, Err: err})
		if fatal := fatalUploadError(ctx, err); fatal != nil {
			res.Failed = append(res.Failed, failAll(pending[i+1:], fatal)...)
			return res, fatal
		}
	}
	return res, nil
}

// retry hands the failed records to the backend's second path, once.
func (x labelExchange) retry(ctx context.Context, failures []LabelFailure) ([]PortLabel, []LabelFailure) {
	retrier, ok := x.backend.(BatchRetrier)
	if !ok {
		return nil, failures
	}

	labels := make([]PortLabel, 0, len(failures))
	for _, f := range failures {
		labels = append(labels, f.Label)
	}

	x.logger.Info().Int("count", len(labels)).Msg("Retrying failed labels as one batch")
	recovered, err := retrier.RetryLabels(ctx, labels)
	if err != nil {
		x.logger.Warn().Err(err).Msg("Batch retry failed")
	}

	landed := make(map[PortRef]struct{}, len(recovered))
	for _, l := range recovered {
		landed[l.Ref()] = struct{}{}
	}
	var still []LabelFailure
	for _, f := range failures {
		if _, ok := landed[f.Label.Ref()]; !ok {
			still = append(still, f)
		}
	}
	return recovered, still
}

// fatalUploadError returns the error that should stop the whole upload:
// transport loss or cancellation of the caller's context. Per-record
// deadlines are not fatal.
func fatalUploadError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, ErrTransportLost) {
		return err
	}
	return nil
}

func failAll(labels []PortLabel, err error) []LabelFailure {
	out := make([]LabelFailure, 0, len(labels))
	for _, l := range labels {
		out = append(out, LabelFailure{Label: l, Err: err})
	}
	return out
}

// untouched returns the records a bulk uploader neither completed nor
// reported as failed before it returned err.
func untouched(pending []PortLabel, res UploadResult, err error) []LabelFailure {
	seen := make(map[PortRef]struct{}, len(res.Succeeded)+len(res.Failed))
	for _, l := range res.Succeeded {
		seen[l.Ref()] = struct{}{}
	}
	for _, f := range res.Failed {
		seen[f.Label.Ref()] = struct{}{}
	}
	var out []LabelFailure
	for _, l := range pending {
		if _, ok := seen[l.Ref()]; !ok {
			out = append(out, LabelFailure{Label: l, Err: err})
		}
	}
	return out
}
