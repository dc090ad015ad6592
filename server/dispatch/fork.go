package dispatch

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/ValentinKolb/dNIO/lib/channel"
	"github.com/ValentinKolb/dNIO/lib/socket"
	"github.com/ValentinKolb/dNIO/server/common"
	"golang.org/x/sys/unix"
)

const (
	// EnvWorkerFD names the inherited connection descriptor (default 3, the first ExtraFiles slot)
	EnvWorkerFD = "DNIO_WORKER_FD"
	// EnvWorkerLocal and EnvWorkerRemote carry the endpoints of the inherited connection
	EnvWorkerLocal  = "DNIO_WORKER_LOCAL"
	EnvWorkerRemote = "DNIO_WORKER_REMOTE"
	// EnvWorkerSession carries the session id assigned by the parent
	EnvWorkerSession = "DNIO_WORKER_SESSION"

	inheritedFD = 3
)

// ForkStrategy serves every connection in a separate worker process.
//
// The accepted descriptor is duplicated and handed to a freshly started process
// as fd 3. The parent closes its own copy right away, the connection stays open
// as long as the worker holds it. The worker rebuilds the channel with
// ServeInherited and runs its own handler, the handler passed to Dispatch is not
// used. Workers are reaped in the background.
type ForkStrategy struct {
	executable string
	args       []string
	env        []string
	wg         sync.WaitGroup
}

// NewForkStrategy creates a strategy that starts executable with args for every connection.
// env is appended to the environment of the current process.
func NewForkStrategy(executable string, args []string, env []string) *ForkStrategy {
	return &ForkStrategy{executable: executable, args: args, env: env}
}

func (*ForkStrategy) Name() common.StrategyName { return common.StrategyFork }

func (f *ForkStrategy) Dispatch(s *Session, _ Handler) error {
	fd := s.Channel.Fd()
	if fd < 0 {
		s.finish()
		return fmt.Errorf("session %d has no descriptor to pass on", s.ID)
	}

	// duplicate close-on-exec, exec.Cmd moves the copy to fd 3 of the child only
	dup, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		s.finish()
		return fmt.Errorf("session %d: failed to duplicate descriptor: %v", s.ID, err)
	}
	conn := os.NewFile(uintptr(dup), "conn-"+strconv.FormatUint(s.ID, 10))

	cmd := exec.Command(f.executable, f.args...)
	cmd.Env = append(os.Environ(), f.env...)
	cmd.Env = append(cmd.Env,
		EnvWorkerFD+"="+strconv.Itoa(inheritedFD),
		EnvWorkerLocal+"="+s.Channel.LocalAddr().String(),
		EnvWorkerRemote+"="+s.Remote.String(),
		EnvWorkerSession+"="+strconv.FormatUint(s.ID, 10),
	)
	cmd.ExtraFiles = []*os.File{conn}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err = cmd.Start()

	// the parent never touches the connection again
	_ = conn.Close()
	if cerr := s.Channel.Close(); cerr != nil {
		Logger.Warningf("session %d: failed to close parent copy: %v", s.ID, cerr)
	}

	if err != nil {
		s.finish()
		return fmt.Errorf("session %d: failed to start worker: %v", s.ID, err)
	}
	Logger.Debugf("session %d: worker pid %d serves %s", s.ID, cmd.Process.Pid, s.Remote)

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		if err := cmd.Wait(); err != nil {
			Logger.Warningf("session %d: worker pid %d exited: %v", s.ID, cmd.Process.Pid, err)
		}
		s.finish()
	}()
	return nil
}

// Shutdown waits until all worker processes were reaped
func (f *ForkStrategy) Shutdown() {
	f.wg.Wait()
}

// --------------------------------------------------------------------------
// Worker side
// --------------------------------------------------------------------------

// ServeInherited runs h on the connection inherited from a parent using ForkStrategy.
// The channel is closed when h returns.
func ServeInherited(h Handler, bufferSize int) error {
	fd := inheritedFD
	if v := os.Getenv(EnvWorkerFD); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %v", EnvWorkerFD, v, err)
		}
		fd = n
	}

	// make sure the descriptor really is a stream socket before adopting it
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return fmt.Errorf("inherited descriptor %d is not a socket: %v", fd, err)
	}
	if typ != unix.SOCK_STREAM {
		return fmt.Errorf("inherited descriptor %d is not a stream socket (type %d)", fd, typ)
	}
	unix.CloseOnExec(fd)

	local := envEndpoint(EnvWorkerLocal)
	remote := envEndpoint(EnvWorkerRemote)
	id, _ := strconv.ParseUint(os.Getenv(EnvWorkerSession), 10, 64)

	ch := channel.NewSocketChannelSize(socket.Adopt(fd, socket.Accepted, local, remote), bufferSize)
	s := newSession(id, ch, nil)
	Logger.Debugf("worker pid %d serves session %d from %s", os.Getpid(), id, remote)
	serve(s, h)
	return nil
}

// envEndpoint parses an endpoint from the environment, a missing or invalid value yields the zero endpoint
func envEndpoint(key string) socket.Endpoint {
	e, err := socket.ParseEndpoint(os.Getenv(key))
	if err != nil {
		return socket.Endpoint{}
	}
	return e
}
