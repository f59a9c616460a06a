package fs

// fileCache is the FileId-indexed table of open files and directories, a
// direct port of the Rust client's FileCache.
type fileCache struct {
	byID   map[uint32]*fileCacheObject
	nextID uint32
}

func newFileCache() *fileCache {
	return &fileCache{byID: make(map[uint32]*fileCacheObject)}
}

func (c *fileCache) insert(f *fileCacheObject) uint32 {
	c.nextID++
	c.byID[c.nextID] = f
	return c.nextID
}

func (c *fileCache) get(fileID uint32) (*fileCacheObject, bool) {
	f, ok := c.byID[fileID]
	return f, ok
}

func (c *fileCache) remove(fileID uint32) (*fileCacheObject, bool) {
	f, ok := c.byID[fileID]
	delete(c.byID, fileID)
	return f, ok
}

// fileCacheObject is the in-memory record of one open file or directory,
// keyed by RDP FileId for the lifetime of the IRP_MJ_CREATE..IRP_MJ_CLOSE
// pair that opened it (filesystem.rs's FileCacheObject).
type fileCacheObject struct {
	path          UnixPath
	deletePending bool
	fso           FileSystemObject
	contents      []FileSystemObject

	// Iteration bookkeeping for IRP_MJ_DIRECTORY_CONTROL: RDP expects a
	// "." entry, then "..", then the real directory contents, one
	// ClientDriveQueryDirectoryResponse at a time.
	contentsIndex int
	dotSent       bool
	dotDotSent    bool
}

func newFileCacheObject(path UnixPath, fso FileSystemObject) *fileCacheObject {
	return &fileCacheObject{path: path, fso: fso}
}

// next returns the directory's next entry, in "." / ".." / contents...
// order, or ok=false once exhausted. Only meaningful when fso.FileType is
// FileTypeDirectory.
func (f *fileCacheObject) next() (FileSystemObject, bool) {
	if !f.dotSent {
		f.dotSent = true
		return FileSystemObject{
			LastModified: f.fso.LastModified,
			Size:         f.fso.Size,
			FileType:     f.fso.FileType,
			Path:         UnixPathFromString("."),
		}, true
	}
	if !f.dotDotSent {
		f.dotDotSent = true
		return FileSystemObject{
			LastModified: f.fso.LastModified,
			FileType:     FileTypeDirectory,
			Path:         UnixPathFromString(".."),
		}, true
	}
	if f.contentsIndex < len(f.contents) {
		entry := f.contents[f.contentsIndex]
		f.contentsIndex++
		return entry, true
	}
	return FileSystemObject{}, false
}

// pendingResponses is a CompletionId-indexed table of callbacks awaiting a
// shared-directory response from the host, generalizing the Rust client's
// per-kind ResponseCache<T> into a single map of closures: every response
// payload starts with the same TdpErrCode header regardless of kind, so
// one cache keyed only by completion id (never ambiguous, since a
// completion id identifies exactly one in-flight IRP) can serve every
// request kind. A handler returns the Device I/O Completion bytes to send
// back to the RDP server, or nil if the operation needs another round
// trip (and will register a further handler itself) before it can reply.
type pendingResponses struct {
	handlers map[uint32]func(payload []byte) ([]byte, error)
}

func newPendingResponses() *pendingResponses {
	return &pendingResponses{handlers: make(map[uint32]func(payload []byte) ([]byte, error))}
}

func (p *pendingResponses) insert(completionID uint32, handler func(payload []byte) ([]byte, error)) {
	p.handlers[completionID] = handler
}

func (p *pendingResponses) remove(completionID uint32) (func(payload []byte) ([]byte, error), bool) {
	h, ok := p.handlers[completionID]
	delete(p.handlers, completionID)
	return h, ok
}
