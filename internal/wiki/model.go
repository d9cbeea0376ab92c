package wiki

// PageID identifies a row in the page table.
type PageID int64

// RevisionID identifies a row in the revision table.
type RevisionID int64

// Page is a logical wiki document. Latest points at the revision currently considered authoritative.
type Page struct {
	ID     PageID     `gorm:"column:page_id;primaryKey;autoIncrement"`
	Title  string     `gorm:"column:page_title;size:255;not null;default:''"`
	Latest RevisionID `gorm:"column:page_latest;not null;default:0"`
}

func (Page) TableName() string {
	return "page"
}

// Revision is a historical version of a page.
type Revision struct {
	ID        RevisionID `gorm:"column:rev_id;primaryKey;autoIncrement"`
	PageID    PageID     `gorm:"column:rev_page;index;not null"`
	Timestamp Timestamp  `gorm:"column:rev_timestamp;type:varchar(14);index;not null"`
}

func (Revision) TableName() string {
	return "revision"
}

// IPChange records the editor address of an anonymous revision.
type IPChange struct {
	RevisionID RevisionID `gorm:"column:ipc_rev_id;primaryKey;autoIncrement:false"`
	Timestamp  Timestamp  `gorm:"column:ipc_rev_timestamp;type:varchar(14);not null"`
	Hex        string     `gorm:"column:ipc_hex;size:35;not null;default:''"`
}

func (IPChange) TableName() string {
	return "ip_changes"
}

// ChangeTag attaches a tag to a revision.
type ChangeTag struct {
	ID         int64      `gorm:"column:ct_id;primaryKey;autoIncrement"`
	RevisionID RevisionID `gorm:"column:ct_rev_id;index"`
	TagID      int64      `gorm:"column:ct_tag_id;not null"`
}

func (ChangeTag) TableName() string {
	return "change_tag"
}

// Slot links a revision (live or archived) to the content of one of its roles.
type Slot struct {
	RevisionID RevisionID `gorm:"column:slot_revision_id;primaryKey;autoIncrement:false"`
	RoleID     int64      `gorm:"column:slot_role_id;primaryKey;autoIncrement:false"`
	ContentID  int64      `gorm:"column:slot_content_id;index;not null"`
	Origin     RevisionID `gorm:"column:slot_origin;not null;default:0"`
}

func (Slot) TableName() string {
	return "slots"
}

// Content describes a stored blob. Address is "tt:<old_id>" when the blob lives in the text table.
type Content struct {
	ID      int64  `gorm:"column:content_id;primaryKey;autoIncrement"`
	Size    int64  `gorm:"column:content_size;not null;default:0"`
	SHA1    string `gorm:"column:content_sha1;size:32;not null;default:''"`
	ModelID int64  `gorm:"column:content_model;not null;default:0"`
	Address string `gorm:"column:content_address;size:255;not null"`
}

func (Content) TableName() string {
	return "content"
}

// Archive holds revisions of deleted pages. Their slots and content stay in place.
type Archive struct {
	ID         int64      `gorm:"column:ar_id;primaryKey;autoIncrement"`
	Title      string     `gorm:"column:ar_title;size:255;not null;default:''"`
	RevisionID RevisionID `gorm:"column:ar_rev_id;uniqueIndex;not null"`
	PageID     PageID     `gorm:"column:ar_page_id;not null;default:0"`
	Timestamp  Timestamp  `gorm:"column:ar_timestamp;type:varchar(14);not null"`
}

func (Archive) TableName() string {
	return "archive"
}

// Text stores blobs addressed as "tt:<old_id>" from the content table.
type Text struct {
	ID      int64  `gorm:"column:old_id;primaryKey;autoIncrement"`
	Content string `gorm:"column:old_text;type:text;not null"`
	Flags   string `gorm:"column:old_flags;size:255;not null;default:''"`
}

func (Text) TableName() string {
	return "text"
}

// RevisionStamp is the slice of a revision row the maintenance procedures reason about.
type RevisionStamp struct {
	ID        RevisionID
	PageID    PageID
	Timestamp Timestamp
}

// PageRef is a page id together with its current revision pointer.
type PageRef struct {
	ID     PageID
	Latest RevisionID
}

// Tables resolves table names, honouring the installation's table prefix.
type Tables struct {
	Prefix string
}

func (t Tables) Page() string {
	return t.Prefix + Page{}.TableName()
}

func (t Tables) Revision() string {
	return t.Prefix + Revision{}.TableName()
}

func (t Tables) IPChange() string {
	return t.Prefix + IPChange{}.TableName()
}

func (t Tables) ChangeTag() string {
	return t.Prefix + ChangeTag{}.TableName()
}

func (t Tables) Slot() string {
	return t.Prefix + Slot{}.TableName()
}

func (t Tables) Content() string {
	return t.Prefix + Content{}.TableName()
}

func (t Tables) Archive() string {
	return t.Prefix + Archive{}.TableName()
}

func (t Tables) Text() string {
	return t.Prefix + Text{}.TableName()
}
