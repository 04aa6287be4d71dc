package users

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wesleyorama2/lunge-fleet/internal/client"
	"github.com/wesleyorama2/lunge-fleet/internal/fleet"
)

// DefaultRESTTimeout bounds one user creation request.
const DefaultRESTTimeout = time.Minute

const createUserPath = "/rest/api/2/user"

// REST creates a fresh user on the target for every call, authenticating
// with the target's admin credentials.
type REST struct {
	Timeout    time.Duration
	HTTPClient *http.Client
}

type createUserRequest struct {
	Name         string `json:"name"`
	Password     string `json:"password"`
	EmailAddress string `json:"emailAddress"`
	DisplayName  string `json:"displayName"`
}

func (g *REST) GenerateUser(ctx context.Context, options fleet.DispatchOptions) (User, error) {
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultRESTTimeout
	}

	c := client.NewClient(
		client.WithHTTPClient(g.HTTPClient),
		client.WithTimeout(timeout),
		client.WithBaseURL(options.Target.URL),
		client.WithBasicAuth(options.Target.Username, options.Target.Password),
	)

	name := "lf-" + uuid.NewString()
	user := User{Name: name, Password: uuid.NewString()}
	req := client.NewRequest(http.MethodPost, createUserPath).WithBody(createUserRequest{
		Name:         user.Name,
		Password:     user.Password,
		EmailAddress: name + "@lunge-fleet.invalid",
		DisplayName:  name,
	})

	resp, err := c.Do(ctx, req)
	if err != nil {
		return User{}, fmt.Errorf("failed to create user on %s: %w", options.Target.URL, err)
	}
	if err := resp.Expect(http.MethodPost, createUserPath, http.StatusCreated, http.StatusOK); err != nil {
		return User{}, fmt.Errorf("failed to create user on %s: %w", options.Target.URL, err)
	}

	// the target may normalise the name
	if returned := resp.Get("name").String(); returned != "" {
		user.Name = returned
	}
	return user, nil
}
