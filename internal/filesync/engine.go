// Package filesync runs signature, diff and patch against files on disk,
// with caching, atomic output and instrumentation around the delta core.
package filesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantarax/deltasync/internal/checksum"
	"github.com/quantarax/deltasync/internal/config"
	"github.com/quantarax/deltasync/internal/delta"
	"github.com/quantarax/deltasync/internal/errs"
	"github.com/quantarax/deltasync/internal/observability"
	"github.com/quantarax/deltasync/internal/patchfile"
	"github.com/quantarax/deltasync/internal/ratelimit"
	"github.com/quantarax/deltasync/internal/signature"
	"github.com/quantarax/deltasync/internal/store"
)

// Options controls how an Engine builds and applies deltas.
type Options struct {
	BlockSize     int
	Weak          checksum.Weak
	Strong        checksum.Strong
	Format        patchfile.Format
	MaxLiteralRun int
	// RateLimit caps file reads in bytes per second; 0 is unlimited.
	RateLimit int64
	// Force keeps a patched output even when it fails verification.
	Force bool
}

// OptionsFromConfig resolves the algorithm ids and patch format in cfg.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	weak, err := checksum.LookupWeak(cfg.WeakAlgorithm)
	if err != nil {
		return Options{}, err
	}
	strong, err := checksum.LookupStrong(cfg.StrongAlgorithm)
	if err != nil {
		return Options{}, err
	}
	format, err := patchfile.ParseFormat(cfg.PatchFormat)
	if err != nil {
		return Options{}, err
	}
	return Options{
		BlockSize:     cfg.BlockSize,
		Weak:          weak,
		Strong:        strong,
		Format:        format,
		MaxLiteralRun: cfg.MaxLiteralRun,
		RateLimit:     cfg.RateLimit,
	}, nil
}

// Token bucket burst bounds for RateLimit.
const (
	minBurst = 4 << 10
	maxBurst = 1 << 20
)

// Engine is safe for sequential use; run one Engine per goroutine.
type Engine struct {
	opts    Options
	cache   *store.SignatureCache
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	limiter *ratelimit.TokenBucket
}

// New creates an engine. cache may be nil to disable signature caching;
// nil logger and metrics get discarding defaults.
func New(opts Options, cache *store.SignatureCache, logger *observability.Logger, metrics *observability.Metrics) (*Engine, error) {
	if opts.BlockSize <= 0 {
		return nil, fmt.Errorf("%w: %d", errs.ErrInvalidBlockSize, opts.BlockSize)
	}
	if opts.Weak == nil || opts.Strong == nil {
		return nil, fmt.Errorf("%w: checksum providers are required", errs.ErrContractViolation)
	}
	if opts.Format == "" {
		opts.Format = patchfile.FormatCBOR
	}
	if opts.RateLimit < 0 {
		return nil, fmt.Errorf("%w: negative rate limit %d", errs.ErrContractViolation, opts.RateLimit)
	}
	if logger == nil {
		logger = observability.Nop()
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	e := &Engine{
		opts:    opts,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
		tracer:  observability.Tracer(),
	}
	if opts.RateLimit > 0 {
		burst := min(max(opts.RateLimit, minBurst), maxBurst)
		e.limiter = ratelimit.NewTokenBucket(float64(opts.RateLimit), int(burst))
	}
	return e, nil
}

// Signature indexes the file at basePath, consulting the cache first.
func (e *Engine) Signature(ctx context.Context, basePath string) (_ *signature.BlockedHashSet, err error) {
	ctx, span := e.tracer.Start(ctx, "filesync.Signature",
		trace.WithAttributes(attribute.String("file.path", basePath)))
	defer func() { endSpan(span, err) }()

	f, err := os.Open(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open base: %w", err)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat base: %w", err)
	}

	key := e.cacheKey(basePath, fi)
	if set, ok := e.cached(key); ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		e.metrics.RecordSignature(set.Len(), fi.Size(), true, 0)
		e.logger.SignatureBuilt(basePath, set.BlockSize(), set.Len(), true, 0)
		return set, nil
	}

	start := time.Now()
	set, err := signature.Build(e.reader(ctx, f), e.opts.BlockSize, e.opts.Weak, e.opts.Strong, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to index %s: %w", basePath, err)
	}
	elapsed := time.Since(start)

	if e.cache != nil {
		if data, merr := signature.Marshal(set); merr != nil {
			e.logger.Error(merr, "failed to encode signature for cache")
		} else if perr := e.cache.Put(key, data); perr != nil {
			e.logger.Error(perr, "failed to store signature in cache")
		}
	}

	span.SetAttributes(attribute.Int("signature.blocks", set.Len()))
	e.metrics.RecordSignature(set.Len(), fi.Size(), false, elapsed.Seconds())
	e.logger.WithFile(basePath, fi.Size()).SignatureBuilt(basePath, set.BlockSize(), set.Len(), false, elapsed)
	return set, nil
}

// WriteSignature indexes basePath and writes the signature file to out.
func (e *Engine) WriteSignature(ctx context.Context, basePath string, out io.Writer) (*signature.BlockedHashSet, error) {
	set, err := e.Signature(ctx, basePath)
	if err != nil {
		return nil, err
	}
	if err := signature.Write(out, set); err != nil {
		return nil, err
	}
	return set, nil
}

// Diff scans targetPath against sig and writes a patch envelope to out.
// The delta uses the signature's algorithms, whatever the engine defaults.
func (e *Engine) Diff(ctx context.Context, sig *signature.BlockedHashSet, targetPath string, out io.Writer) (_ *patchfile.Envelope, err error) {
	ctx, span := e.tracer.Start(ctx, "filesync.Diff",
		trace.WithAttributes(attribute.String("file.path", targetPath)))
	defer func() { endSpan(span, err) }()

	f, err := os.Open(targetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open target: %w", err)
	}
	defer f.Close()

	b, err := delta.NewBuilder(sig, sig.Weak(), sig.Strong(), delta.Options{MaxLiteralRun: e.opts.MaxLiteralRun})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	d, err := b.Build(e.reader(ctx, f))
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", targetPath, err)
	}
	elapsed := time.Since(start)

	env := patchfile.New(d)
	if err := patchfile.Encode(out, e.opts.Format, env); err != nil {
		return nil, err
	}

	st := d.Stats()
	span.SetAttributes(
		attribute.String("patch.id", env.ID),
		attribute.Int("delta.copies", st.Copies),
		attribute.Int("delta.literals", st.Literals),
	)
	e.metrics.RecordDelta(st.Copies, st.Literals, st.CopiedBytes, st.LiteralBytes, elapsed.Seconds())
	e.logger.WithSession(env.ID).DeltaBuilt(targetPath, st.Copies, st.Literals, st.LiteralBytes, elapsed)
	return env, nil
}

// Patch applies the patch at patchPath to basePath and writes the result to
// outPath. The output is staged in a temporary file next to outPath and only
// renamed into place once verified, unless Force is set. outPath may equal
// basePath. An unverified result is reported as errs.ErrDigestMismatch.
func (e *Engine) Patch(ctx context.Context, basePath, patchPath, outPath string) (res delta.Result, err error) {
	ctx, span := e.tracer.Start(ctx, "filesync.Patch",
		trace.WithAttributes(
			attribute.String("file.path", outPath),
			attribute.String("patch.path", patchPath),
		))
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() {
		e.metrics.RecordApply(res.Written, res.Verified, ignoreMismatch(err), time.Since(start).Seconds())
	}()

	env, err := readPatch(patchPath)
	if err != nil {
		return delta.Result{}, err
	}
	d := env.Delta
	span.SetAttributes(attribute.String("patch.id", env.ID))

	weak, err := checksum.LookupWeak(d.WeakAlgorithm)
	if err != nil {
		return delta.Result{}, err
	}
	strong, err := checksum.LookupStrong(d.StrongAlgorithm)
	if err != nil {
		return delta.Result{}, err
	}

	base, err := os.Open(basePath)
	if err != nil {
		return delta.Result{}, fmt.Errorf("failed to open base: %w", err)
	}
	defer base.Close()
	fi, err := base.Stat()
	if err != nil {
		return delta.Result{}, fmt.Errorf("failed to stat base: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), "."+filepath.Base(outPath)+".rdelta-*")
	if err != nil {
		return delta.Result{}, fmt.Errorf("failed to create temp output: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	res, err = delta.NewApplier(weak, strong).Apply(d, e.readerAt(ctx, base), fi.Size(), tmp)
	if err != nil {
		return res, fmt.Errorf("failed to apply %s: %w", patchPath, err)
	}

	logger := e.logger.WithSession(env.ID)
	logger.PatchApplied(outPath, res.Written, res.Verified, time.Since(start))
	if !res.Verified {
		logger.DigestMismatch(outPath, d.TargetDigest, res.Digest)
		if !e.opts.Force {
			return res, fmt.Errorf("%s: %w", outPath, res.Err())
		}
		logger.Warn("keeping unverified output")
	}

	if err := tmp.Sync(); err != nil {
		return res, fmt.Errorf("failed to sync output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return res, fmt.Errorf("failed to close output: %w", err)
	}
	if err := os.Chmod(tmp.Name(), fi.Mode().Perm()); err != nil {
		return res, fmt.Errorf("failed to set output mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return res, fmt.Errorf("failed to move output into place: %w", err)
	}
	committed = true

	return res, res.Err()
}

// CollectCache drops cache entries older than maxAge.
func (e *Engine) CollectCache(maxAge time.Duration) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	return e.cache.GC(maxAge)
}

func (e *Engine) cacheKey(path string, fi os.FileInfo) store.CacheKey {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return store.CacheKey{
		Path:            abs,
		Size:            fi.Size(),
		ModTime:         fi.ModTime(),
		BlockSize:       e.opts.BlockSize,
		WeakAlgorithm:   e.opts.Weak.ID(),
		StrongAlgorithm: e.opts.Strong.ID(),
	}
}

// cached returns the cached index for key. Any cache failure is logged and
// treated as a miss.
func (e *Engine) cached(key store.CacheKey) (*signature.BlockedHashSet, bool) {
	if e.cache == nil {
		return nil, false
	}
	data, ok, err := e.cache.Get(key)
	if err != nil {
		e.logger.Error(err, "signature cache lookup failed")
		return nil, false
	}
	if !ok {
		e.logger.Debug("signature cache miss")
		return nil, false
	}
	set, err := signature.Unmarshal(data)
	if err != nil {
		e.logger.Error(err, "discarding unreadable cached signature")
		return nil, false
	}
	return set, true
}

func readPatch(path string) (*patchfile.Envelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open patch: %w", err)
	}
	defer f.Close()
	env, _, err := patchfile.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return env, nil
}

// ReadSignature loads a signature file from disk.
func ReadSignature(path string) (*signature.BlockedHashSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open signature: %w", err)
	}
	defer f.Close()
	set, err := signature.Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

func ignoreMismatch(err error) error {
	if errors.Is(err, errs.ErrDigestMismatch) {
		return nil
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
