package session

import (
	"fmt"
	"os"

	"github.com/ajaxzhan/sandbox-sftp/pkg/types"
)

// handlePrefix is prepended to the counter to form handle strings.
const handlePrefix = "handle_"

// openFile is an open regular file owned by a handle.
type openFile struct {
	file     *os.File
	local    string
	virtual  string
	textLike bool
}

// openDir is an open directory cursor owned by a handle.
type openDir struct {
	dir     *os.File
	local   string
	virtual string
}

// state is the per-session handle arena. It is only touched with the
// session mutex held.
type state struct {
	version  uint32
	initDone bool

	counter uint64
	files   map[string]*openFile
	dirs    map[string]*openDir

	bytesRead    uint64
	bytesWritten uint64
}

func newState() *state {
	return &state{
		files: make(map[string]*openFile),
		dirs:  make(map[string]*openDir),
	}
}

// allocateHandle issues a handle that was never issued before in this
// session. Handles are not reused after close.
func (st *state) allocateHandle() string {
	st.counter++
	return fmt.Sprintf("%s%d", handlePrefix, st.counter)
}

func (st *state) addFile(f *openFile) string {
	h := st.allocateHandle()
	st.files[h] = f
	return h
}

func (st *state) addDir(d *openDir) string {
	h := st.allocateHandle()
	st.dirs[h] = d
	return h
}

func (st *state) file(op, handle string) (*openFile, error) {
	f, ok := st.files[handle]
	if !ok {
		return nil, types.NewStatusError(op, types.StatusBadMessage, types.ErrBadHandle).WithHandle(handle)
	}
	return f, nil
}

func (st *state) dir(op, handle string) (*openDir, error) {
	d, ok := st.dirs[handle]
	if !ok {
		return nil, types.NewStatusError(op, types.StatusBadMessage, types.ErrBadHandle).WithHandle(handle)
	}
	return d, nil
}

// release removes a handle from whichever map holds it and returns the
// underlying OS handle. An unknown handle yields nil.
func (st *state) release(handle string) *os.File {
	if f, ok := st.files[handle]; ok {
		delete(st.files, handle)
		return f.file
	}
	if d, ok := st.dirs[handle]; ok {
		delete(st.dirs, handle)
		return d.dir
	}
	return nil
}

// releaseAll empties both maps and returns every OS handle they held.
func (st *state) releaseAll() []*os.File {
	out := make([]*os.File, 0, len(st.files)+len(st.dirs))
	for h, f := range st.files {
		out = append(out, f.file)
		delete(st.files, h)
	}
	for h, d := range st.dirs {
		out = append(out, d.dir)
		delete(st.dirs, h)
	}
	return out
}

func (st *state) stats() types.SessionStats {
	return types.SessionStats{
		BytesRead:     st.bytesRead,
		BytesWritten:  st.bytesWritten,
		OpenFiles:     len(st.files),
		OpenDirs:      len(st.dirs),
		HandlesIssued: st.counter,
	}
}
