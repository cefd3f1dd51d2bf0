package models

// User represents a Bitbucket account as embedded in issue and pull
// request payloads. A nil *User means the account has been deleted.
type User struct {
	UUID        string `json:"uuid"`
	Nickname    string `json:"nickname"`
	DisplayName string `json:"display_name"`
	AccountID   string `json:"account_id"`
}

// Content wraps Bitbucket's raw markup container.
type Content struct {
	Raw string `json:"raw"`
}

// Component is a named issue component.
type Component struct {
	Name string `json:"name"`
}

// Issue represents a Bitbucket issue snapshot.
type Issue struct {
	ID        int        `json:"id"`
	Title     string     `json:"title"`
	Content   Content    `json:"content"`
	State     string     `json:"state"`
	Kind      string     `json:"kind"`
	Priority  string     `json:"priority"`
	Component *Component `json:"component"`
	Reporter  *User      `json:"reporter"`
	Assignee  *User      `json:"assignee"`
	CreatedOn string     `json:"created_on"`
	UpdatedOn string     `json:"updated_on"`
}

// Branch names one side of a pull request. The name can be empty when
// the branch no longer exists.
type Branch struct {
	Name string `json:"name"`
}

// Commit identifies a commit by hash.
type Commit struct {
	Hash string `json:"hash"`
}

// Repository identifies a Bitbucket repository.
type Repository struct {
	FullName string `json:"full_name"`
}

// Endpoint is the source or destination side of a pull request.
// Repository and Commit are nil when Bitbucket no longer knows them.
type Endpoint struct {
	Repository *Repository `json:"repository"`
	Branch     *Branch     `json:"branch"`
	Commit     *Commit     `json:"commit"`
}

// Participant is a user attached to a pull request with their review role.
type Participant struct {
	User     *User  `json:"user"`
	Role     string `json:"role"`
	Approved bool   `json:"approved"`
}

// PullRequest represents a detailed Bitbucket pull request snapshot.
type PullRequest struct {
	ID           int           `json:"id"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	State        string        `json:"state"`
	Author       *User         `json:"author"`
	CreatedOn    string        `json:"created_on"`
	UpdatedOn    string        `json:"updated_on"`
	Participants []Participant `json:"participants"`
	Reviewers    []User        `json:"reviewers"`
	Source       Endpoint      `json:"source"`
	Destination  Endpoint      `json:"destination"`
	MergeCommit  *Commit       `json:"merge_commit"`
}

// Inline carries the file/line annotation of a code review comment.
type Inline struct {
	Path     string `json:"path"`
	From     *int   `json:"from"`
	To       *int   `json:"to"`
	Outdated bool   `json:"outdated"`
}

// Link is a single href inside a links container.
type Link struct {
	Href string `json:"href"`
}

// Comment represents a Bitbucket issue or pull request comment.
// The list endpoints return shallow records; Links.Self points at the
// detailed representation that carries complete inline data.
type Comment struct {
	ID        int     `json:"id"`
	User      *User   `json:"user"`
	Content   Content `json:"content"`
	CreatedOn string  `json:"created_on"`
	Deleted   bool    `json:"deleted"`
	Inline    *Inline `json:"inline"`
	Links     struct {
		Self Link `json:"self"`
	} `json:"links"`
}

// FieldChange is the old/new pair of one edited field.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// ChangeEvent represents one edit to an issue, keyed by field name.
type ChangeEvent struct {
	ID        int                    `json:"id"`
	User      *User                  `json:"user"`
	CreatedOn string                 `json:"created_on"`
	Changes   map[string]FieldChange `json:"changes"`
}

// Approval is the approval variant of a pull request activity entry.
type Approval struct {
	User *User  `json:"user"`
	Date string `json:"date"`
}

// Activity is one entry of a pull request's activity stream. Only the
// approval variant is migrated; update and comment activity is ignored.
type Activity struct {
	Approval *Approval `json:"approval"`
}

// Attachment is the metadata of one issue attachment.
type Attachment struct {
	Name string `json:"name"`
}

// RenderedComment is a GitHub-ready comment produced by the renderer.
// CreatedAt is in strict ISO-8601 UTC form and doubles as the sort key
// when merging the comment, change and activity sub-streams.
type RenderedComment struct {
	Body      string
	CreatedAt string
}

// IssueData is the full payload for creating or updating a GitHub issue.
type IssueData struct {
	Title     string
	Body      string
	CreatedAt string
	UpdatedAt string
	Assignee  string
	Closed    bool
	Labels    []string
	Comments  []RenderedComment
}

// PullData is the full payload for creating or updating a GitHub pull request.
type PullData struct {
	Title     string
	Body      string
	Assignees []string
	Reviewers []string
	Closed    bool
	Labels    []string
	Base      string
	Head      string
	Comments  []RenderedComment
}

// Archive references the gist hosting one issue's migrated attachments.
// FileURLs maps each attachment name to its raw download URL.
type Archive struct {
	Description string
	FileURLs    map[string]string
}
