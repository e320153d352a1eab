package protocol

import (
	"context"
	"fmt"
	"sync"
)

// BlindSigner issues a blind RSA signature over an already-blinded
// message. Satisfied by *Signer; an interface so tests can substitute
// a fake without exercising real RSA math.
type BlindSigner interface {
	BlindSign(blindedMessage []byte) ([]byte, error)
}

// BlindVerifier checks a finalized blind RSA token. Satisfied by
// *Verifier.
type BlindVerifier interface {
	VerifyToken(fingerprint, randomizer, token []byte) error
}

// Pool offloads the CPU-bound RSA blind-sign and blind-verify
// operations from the async Nostr ingress path onto a small set of
// worker goroutines, the same shape as the teacher's QueueProcessor
// (separate channels per job type, a shutdown channel, a WaitGroup,
// and a non-blocking enqueue that drops under load rather than
// blocking the caller) generalized from registration/vote queues to
// sign/verify queues.
type Pool struct {
	signer   BlindSigner
	verifier BlindVerifier

	issuanceCh chan issuanceJob
	ballotCh   chan ballotVerifyJob
	shutdownCh chan struct{}
	wg         sync.WaitGroup
}

type issuanceJob struct {
	blinded  []byte
	resultCh chan<- signResult
}

type signResult struct {
	sig []byte
	err error
}

type ballotVerifyJob struct {
	fingerprint []byte
	randomizer  []byte
	token       []byte
	resultCh    chan<- error
}

// NewPool builds a Pool with the given queue depth and worker count
// per job type.
func NewPool(signer BlindSigner, verifier BlindVerifier, queueSize, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		signer:     signer,
		verifier:   verifier,
		issuanceCh: make(chan issuanceJob, queueSize),
		ballotCh:   make(chan ballotVerifyJob, queueSize),
		shutdownCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(2)
		go p.issuanceWorker()
		go p.ballotWorker()
	}
	return p
}

// Stop drains in-flight jobs and shuts every worker down.
func (p *Pool) Stop() {
	close(p.shutdownCh)
	p.wg.Wait()
}

func (p *Pool) issuanceWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdownCh:
			return
		case job := <-p.issuanceCh:
			sig, err := p.signer.BlindSign(job.blinded)
			job.resultCh <- signResult{sig: sig, err: err}
		}
	}
}

func (p *Pool) ballotWorker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdownCh:
			return
		case job := <-p.ballotCh:
			err := p.verifier.VerifyToken(job.fingerprint, job.randomizer, job.token)
			job.resultCh <- err
		}
	}
}

// Sign submits blinded for blind signing and waits for the result or
// ctx cancellation. Returns an error immediately, without touching a
// worker, if the issuance queue is currently full.
func (p *Pool) Sign(ctx context.Context, blinded []byte) ([]byte, error) {
	resultCh := make(chan signResult, 1)
	select {
	case p.issuanceCh <- issuanceJob{blinded: blinded, resultCh: resultCh}:
	default:
		return nil, fmt.Errorf("issuance queue full")
	}
	select {
	case r := <-resultCh:
		return r.sig, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Verify submits a token for blind verification and waits for the
// result or ctx cancellation.
func (p *Pool) Verify(ctx context.Context, fingerprint, randomizer, token []byte) error {
	resultCh := make(chan error, 1)
	select {
	case p.ballotCh <- ballotVerifyJob{fingerprint: fingerprint, randomizer: randomizer, token: token, resultCh: resultCh}:
	default:
		return fmt.Errorf("ballot verify queue full")
	}
	select {
	case err := <-resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
