package geocat

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cleanReport = `{"errors":[],"numberOfNullRecords":0,"numberOfRecordNotFound":0,` +
	`"numberOfRecordsNotEditable":0,"numberOfRecordsProcessed":1,"numberOfRecordsWithErrors":0}`

func adminCreds() *Credentials {
	return &Credentials{Username: "admin", Password: "secret"}
}

func TestSharing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geonetwork/srv/api/records/abc/sharing", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`{"owner":7,"groupOwner":42,"privileges":[{"group":1,"operations":{"view":true}}]}`))
		case http.MethodPut:
			var update struct {
				Clear      bool        `json:"clear"`
				Privileges []Privilege `json:"privileges"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&update))
			assert.True(t, update.Clear)
			require.Len(t, update.Privileges, 1)
			assert.Equal(t, 42, update.Privileges[0].Group)
			assert.True(t, update.Privileges[0].Operations["view"])
			assert.False(t, update.Privileges[0].Operations["download"])
			w.WriteHeader(http.StatusNoContent)
		}
	})
	c, _ := connectTest(t, mux, adminCreds())

	s, err := c.Sharing(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, 7, s.Owner)
	assert.Equal(t, 42, s.GroupOwner)

	err = c.SetSharing(context.Background(), "abc", true, []Privilege{{
		Group:      42,
		Operations: map[string]bool{"view": true, "download": false},
	}})
	require.NoError(t, err)
}

func TestSetOwnership(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geonetwork/srv/api/records/abc/ownership", func(w http.ResponseWriter, r *http.Request) {
		var update struct {
			Owner      int `json:"owner"`
			GroupOwner int `json:"groupOwner"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&update))
		assert.Equal(t, 7, update.Owner)
		assert.Equal(t, 42, update.GroupOwner)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(cleanReport))
	})
	c, _ := connectTest(t, mux, adminCreds())

	require.NoError(t, c.SetOwnership(context.Background(), "abc", 7, 42))
}

func TestValidateRecord(t *testing.T) {
	t.Run("open, validate, close", func(t *testing.T) {
		var order []string
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/records/abc/editor", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				order = append(order, "open")
				w.Write([]byte(`<root/>`))
			case http.MethodDelete:
				order = append(order, "close")
				w.WriteHeader(http.StatusNoContent)
			}
		})
		mux.HandleFunc("/geonetwork/srv/api/records/abc/validate/internal", func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, "validate")
			w.WriteHeader(http.StatusCreated)
		})
		c, _ := connectTest(t, mux, adminCreds())

		require.NoError(t, c.ValidateRecord(context.Background(), "abc"))
		assert.Equal(t, []string{"open", "validate", "close"}, order)
	})

	t.Run("failed validation still releases the lock", func(t *testing.T) {
		var closed bool
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/records/abc/editor", func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet:
				w.Write([]byte(`<root/>`))
			case http.MethodDelete:
				closed = true
				w.WriteHeader(http.StatusNoContent)
			}
		})
		mux.HandleFunc("/geonetwork/srv/api/records/abc/validate/internal", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		})
		c, _ := connectTest(t, mux, adminCreds())

		err := c.ValidateRecord(context.Background(), "abc")
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusBadRequest, se.StatusCode)
		assert.True(t, closed)
	})

	t.Run("failed open skips validation", func(t *testing.T) {
		var validated bool
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/records/abc/editor", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
		mux.HandleFunc("/geonetwork/srv/api/records/abc/validate/internal", func(http.ResponseWriter, *http.Request) {
			validated = true
		})
		c, _ := connectTest(t, mux, adminCreds())

		require.Error(t, c.ValidateRecord(context.Background(), "abc"))
		assert.False(t, validated)
	})
}

func TestDeleteRecord(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geonetwork/srv/api/records/abc", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "false", r.URL.Query().Get("withBackup"))
		w.WriteHeader(http.StatusNoContent)
	})
	c, _ := connectTest(t, mux, adminCreds())

	require.NoError(t, c.DeleteRecord(context.Background(), "abc"))
}

func TestEditMetadata(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geonetwork/srv/api/records/batchediting", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("uuids"))
		assert.Equal(t, "false", r.URL.Query().Get("updateDateStamp"))
		var edits []Edit
		require.NoError(t, json.NewDecoder(r.Body).Decode(&edits))
		require.Len(t, edits, 1)
		assert.Equal(t, "/che:CHE_MD_Metadata", edits[0].XPath)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(cleanReport))
	})
	c, _ := connectTest(t, mux, adminCreds())

	err := c.EditMetadata(context.Background(), "abc",
		[]Edit{{XPath: "/che:CHE_MD_Metadata", Value: "<gn_add/>"}}, false)
	require.NoError(t, err)
}

func TestSearchAndReplace(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geonetwork/srv/api/processes/db/search-and-replace", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "old-uuid", q.Get("search"))
		assert.Equal(t, "new-uuid", q.Get("replace"))
		assert.Equal(t, "abc", q.Get("uuids"))
		assert.Equal(t, "false", q.Get("updateDateStamp"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(cleanReport))
	})
	c, _ := connectTest(t, mux, adminCreds())

	require.NoError(t, c.SearchAndReplace(context.Background(), "abc", "old-uuid", "new-uuid"))
}

func TestRegistryEntry(t *testing.T) {
	t.Run("xml body", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/registries/entries/abc", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "ger,fre,ita,eng", r.URL.Query().Get("lang"))
			w.Write([]byte(`<che:CHE_CI_ResponsibleParty/>`))
		})
		c, _ := connectTest(t, mux, adminCreds())

		body, err := c.RegistryEntry(context.Background(), "abc", "ger,fre,ita,eng")
		require.NoError(t, err)
		assert.Equal(t, []byte(`<che:CHE_CI_ResponsibleParty/>`), body)
	})

	t.Run("api error disguised as 200", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/api/registries/entries/abc", func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`<apiError code="resource_not_found"/>`))
		})
		c, _ := connectTest(t, mux, adminCreds())

		_, err := c.RegistryEntry(context.Background(), "abc", "ger")
		require.Error(t, err)
	})
}

func TestCheckProcessReport(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"errors present", `{"errors":[{"message":"boom"}],"numberOfRecordsProcessed":1}`},
		{"nothing processed", `{"errors":[],"numberOfRecordsProcessed":0}`},
		{"record not found", `{"errors":[],"numberOfRecordNotFound":1,"numberOfRecordsProcessed":1}`},
		{"not editable", `{"errors":[],"numberOfRecordsNotEditable":1,"numberOfRecordsProcessed":1}`},
		{"record errors", `{"errors":[],"numberOfRecordsWithErrors":1,"numberOfRecordsProcessed":1}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/geonetwork/srv/api/records/abc/ownership", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte(tc.body))
			})
			c, _ := connectTest(t, mux, adminCreds())

			err := c.SetOwnership(context.Background(), "abc", 1, 2)
			require.ErrorIs(t, err, ErrProcessFailed)
		})
	}
}
