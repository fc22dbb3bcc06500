package object

// Hash is a 40-character hex-encoded SHA-1 digest identifying one stored
// object. An empty Hash means "not yet persisted".
type Hash string

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
)

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// Signature identifies the author or committer of a commit together with
// the moment the action happened.
type Signature struct {
	Name  string
	Email string
	When  int64  // unix seconds
	TZ    string // e.g. "+0000"; empty means UTC
}

// IsZero reports whether the signature carries no identity at all.
func (s Signature) IsZero() bool {
	return s.Name == "" && s.Email == "" && s.When == 0
}

// TreeEntry is one entry in a tree object.
type TreeEntry struct {
	Name        string
	IsDir       bool
	Mode        string
	BlobHash    Hash
	SubtreeHash Hash
}

// TreeObj holds a sorted list of tree entries.
type TreeObj struct {
	Entries []TreeEntry // sorted by Name
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash  Hash
	Parents   []Hash
	Author    Signature
	Committer Signature
	Signature string // detached SSH signature over the signing payload, optional
	Message   string
}

// Clone returns a deep copy of the commit, so callers can hand the copy
// across goroutines without sharing the Parents slice.
func (c *CommitObj) Clone() *CommitObj {
	if c == nil {
		return nil
	}
	out := *c
	out.Parents = make([]Hash, len(c.Parents))
	copy(out.Parents, c.Parents)
	return &out
}
