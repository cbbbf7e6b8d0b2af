//go:build linux

package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	readChunk = 32 << 10
	// maxReadsPerWake bounds the reads done for one readiness event so a
	// chatty child cannot keep the loop from its deadline and exit checks.
	maxReadsPerWake = 64
)

// streams holds the parent ends of the child's standard streams as raw
// non-blocking descriptors. A released stream is -1.
type streams struct {
	stdin, stdout, stderr int
	tty                   bool
	master                int        // pty master shared by stdin and stdout, -1 for pipes
	child                 []*os.File // child ends, closed once the child has started
}

func openPipes(cmd *exec.Cmd) (*streams, error) {
	st := &streams{stdin: -1, stdout: -1, stderr: -1, master: -1}
	stdin, err := st.pipe(&st.stdin, true)
	if err != nil {
		st.close()
		return nil, err
	}
	stdout, err := st.pipe(&st.stdout, false)
	if err != nil {
		st.close()
		return nil, err
	}
	stderr, err := st.pipe(&st.stderr, false)
	if err != nil {
		st.close()
		return nil, err
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return st, nil
}

// pipe creates a pipe, stores the parent end in *parent and returns the
// child end. parentWrites selects which end the parent keeps.
func (st *streams) pipe(parent *int, parentWrites bool) (*os.File, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	mine, theirs := p[0], p[1]
	if parentWrites {
		mine, theirs = p[1], p[0]
	}
	if err := unix.SetNonblock(mine, true); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}
	*parent = mine
	f := os.NewFile(uintptr(theirs), "child-stdio")
	st.child = append(st.child, f)
	return f, nil
}

func openTTY(cmd *exec.Cmd) (*streams, error) {
	master, tty, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("opening pty: %w", err)
	}
	fd, err := unix.Dup(int(master.Fd()))
	_ = master.Close()
	if err != nil {
		_ = tty.Close()
		return nil, fmt.Errorf("dup pty master: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		_ = tty.Close()
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}
	cmd.Stdin, cmd.Stdout, cmd.Stderr = tty, tty, tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}
	return &streams{stdin: fd, stdout: fd, stderr: -1, tty: true, master: fd, child: []*os.File{tty}}, nil
}

func (st *streams) closeChildEnds() {
	for _, f := range st.child {
		_ = f.Close()
	}
	st.child = nil
}

// release stops using a stream. Pipe ends are closed right away; the pty
// master is closed once, by close.
func (st *streams) release(fd *int) {
	if *fd < 0 {
		return
	}
	if !st.tty {
		_ = unix.Close(*fd)
	}
	*fd = -1
}

func (st *streams) close() {
	st.closeChildEnds()
	st.release(&st.stdin)
	st.release(&st.stdout)
	st.release(&st.stderr)
	if st.master >= 0 {
		_ = unix.Close(st.master)
		st.master = -1
	}
}

func (r *Runner) execute(ctx context.Context, req Request, argv []string, runID string, log *zap.Logger) (*Result, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = req.Dir
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}

	open := openPipes
	if req.TTY {
		open = openTTY
	}
	st, err := open(cmd)
	if err != nil {
		return nil, fmt.Errorf("creating standard streams: %w", err)
	}
	defer st.close()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		log.Info("launch failed", zap.Strings("argv", argv), zap.Error(err))
		return nil, &LaunchError{Argv: argv, Err: err}
	}
	st.closeChildEnds()
	pgid := cmd.Process.Pid

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	log.Debug("launched",
		zap.Strings("argv", argv),
		zap.Int("pid", pgid),
		zap.Int("input_lines", len(req.Input)),
		zap.Bool("tty", req.TTY))

	sess := newSession(req.Input, r.quiet(), start)
	if sess.inputDone() && !r.HoldStdin && !st.tty {
		// Nothing to type: the child sees end of file straight away.
		st.release(&st.stdin)
	}
	loopErr := r.loop(ctx, st, sess, exited)

	// On the error paths the child is still running. After a normal exit this
	// takes down anything it left behind in its group.
	killGroup(pgid)
	<-exited

	buf := make([]byte, readChunk)
	now := time.Now()
	if st.stdout >= 0 {
		drain(st.stdout, buf, func(b []byte) { sess.record(EventOutput, b, now) })
	}
	if st.stderr >= 0 {
		drain(st.stderr, buf, func(b []byte) { sess.record(EventError, b, now) })
	}
	sess.discard()

	res := sess.result(runID, cmd.ProcessState.ExitCode(), time.Now())
	log.Debug("finished",
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("elapsed", res.Elapsed),
		zap.Int("delivered", res.Delivered),
		zap.Int("discarded", res.Discarded),
		zap.Int("stdout_bytes", len(res.Stdout)),
		zap.Int("stderr_bytes", len(res.Stderr)))
	if loopErr != nil {
		log.Info("run aborted", zap.Error(loopErr))
		return res, loopErr
	}
	return res, nil
}

// loop multiplexes over the child's streams until it exits, the deadline
// passes or ctx is done.
func (r *Runner) loop(ctx context.Context, st *streams, sess *session, exited <-chan struct{}) error {
	var deadline time.Time
	if r.Timeout > 0 {
		deadline = sess.start.Add(r.Timeout)
	}
	buf := make([]byte, readChunk)
	fds := make([]unix.PollFd, 3)

	for {
		select {
		case <-exited:
			return nil
		default:
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		now := time.Now()
		if !deadline.IsZero() && !now.Before(deadline) {
			return &TimedOutError{Elapsed: now.Sub(sess.start), Limit: r.Timeout}
		}

		wait := r.pollInterval()
		if d := sess.untilEligible(now); d > 0 && d < wait {
			wait = d
		}
		if !deadline.IsZero() {
			if d := deadline.Sub(now); d < wait {
				wait = d
			}
		}

		// stdin is almost always writable, so it only joins the wait when a
		// line is due. Otherwise the wait would return at once and spin.
		in := -1
		if st.stdin >= 0 && sess.wantsWrite(now) {
			in = st.stdin
		}
		fds[0] = pollFd(st.stdout, unix.POLLIN)
		fds[1] = pollFd(st.stderr, unix.POLLIN)
		fds[2] = pollFd(in, unix.POLLOUT)

		if _, err := unix.Poll(fds, toMillis(wait)); err != nil && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("poll: %w", err)
		}

		now = time.Now()
		if fds[0].Revents != 0 && st.stdout >= 0 {
			if !drain(st.stdout, buf, func(b []byte) { sess.record(EventOutput, b, now) }) {
				st.release(&st.stdout)
			}
		}
		if fds[1].Revents != 0 && st.stderr >= 0 {
			if !drain(st.stderr, buf, func(b []byte) { sess.record(EventError, b, now) }) {
				st.release(&st.stderr)
			}
		}
		if r.MaxOutput > 0 && sess.outputLen() > r.MaxOutput {
			return &OutputLimitError{Limit: r.MaxOutput}
		}

		// A read in this round restarts the quiet window, so check again.
		if fds[2].Revents != 0 && st.stdin >= 0 && sess.wantsWrite(now) {
			r.deliver(st, sess, now)
		}
	}
}

// deliver writes the next chunk of input. A broken pipe means the child
// stopped reading; what is left is dropped.
func (r *Runner) deliver(st *streams, sess *session, now time.Time) {
	chunk := sess.nextChunk(now)
	n, err := unix.Write(st.stdin, chunk)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			return
		}
		sess.discard()
		st.release(&st.stdin)
		return
	}
	sess.wrote(n)
	if sess.inputDone() && !r.HoldStdin && !st.tty {
		st.release(&st.stdin)
	}
}

// drain reads what is currently available on fd. It returns false once the
// stream is finished: end of file, or EIO from a pty master whose child
// side has closed.
func drain(fd int, buf []byte, sink func([]byte)) bool {
	for i := 0; i < maxReadsPerWake; i++ {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return errors.Is(err, unix.EAGAIN)
		}
		if n == 0 {
			return false
		}
		sink(buf[:n])
	}
	return true
}

func pollFd(fd int, events int16) unix.PollFd {
	return unix.PollFd{Fd: int32(fd), Events: events}
}

func toMillis(d time.Duration) int {
	ms := int((d + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		ms = 1
	}
	return ms
}

func killGroup(pgid int) {
	if pgid > 0 {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
}
