package xero

// Organisation is the subset of the accounting Organisation resource used here
type Organisation struct {
	OrganisationID   string `json:"OrganisationID"`
	Name             string `json:"Name"`
	LegalName        string `json:"LegalName,omitempty"`
	ShortCode        string `json:"ShortCode,omitempty"`
	CountryCode      string `json:"CountryCode,omitempty"`
	BaseCurrency     string `json:"BaseCurrency,omitempty"`
	OrganisationType string `json:"OrganisationType,omitempty"`
}

// User is an accounting API user
type User struct {
	UserID           string `json:"UserID"`
	EmailAddress     string `json:"EmailAddress"`
	FirstName        string `json:"FirstName"`
	LastName         string `json:"LastName"`
	IsSubscriber     bool   `json:"IsSubscriber,omitempty"`
	OrganisationRole string `json:"OrganisationRole,omitempty"`
}

// Pagination is the projects API paging envelope
type Pagination struct {
	Page      int `json:"page"`
	PageSize  int `json:"pageSize"`
	PageCount int `json:"pageCount"`
	ItemCount int `json:"itemCount"`
}

// ProjectsUser is an entry of the projects API user listing
type ProjectsUser struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// ProjectsUsersPage is one page of the projects API user listing
type ProjectsUsersPage struct {
	Pagination Pagination     `json:"pagination"`
	Items      []ProjectsUser `json:"items"`
}
