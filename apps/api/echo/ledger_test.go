package echoapi

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/feedesk/core/ledger"
	"github.com/trezcool/feedesk/services/email"
	"github.com/trezcool/feedesk/tests"
)

var (
	errStudentNotFound = httpErr{Error: "student not found"}
	errPaymentNotFound = httpErr{Error: "payment not found"}
	errNotFound        = httpErr{Error: "not found"}
)

func Test_home(t *testing.T) {
	app := setup(t)

	req, rec := newRequest(http.MethodGet, "/")
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Fee Desk API!", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func Test_ledgerApi_queryStudents(t *testing.T) {
	app := setup(t)
	testutil.CreateStudent(t, repo, "S1", "Asha Rao", "BSc I", "1000")
	testutil.CreateStudent(t, repo, "S2", "Ravi Kumar", "BSc II", "500")
	testutil.CreateStudent(t, repo, "T3", "Meena", "BSc I", "750")

	tests := []struct {
		name    string
		path    string
		wantIDs []string
	}{
		{name: "all", path: "/v1/students", wantIDs: []string{"S1", "S2", "T3"}},
		{name: "by class", path: "/v1/students?class=BSc+I", wantIDs: []string{"S1", "T3"}},
		{name: "search name", path: "/v1/students?search=ravi", wantIDs: []string{"S2"}},
		{name: "search id", path: "/v1/students?search=s", wantIDs: []string{"S1", "S2"}},
		{name: "both", path: "/v1/students?search=meena&class=BSc+II", wantIDs: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodGet, tt.path)
			app.ServeHTTP(rec, req)
			checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

			var stds []ledger.Student
			unmarshalBody(t, rec, &stds)
			ids := make([]string, 0, len(stds))
			for _, std := range stds {
				ids = append(ids, std.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func Test_ledgerApi_upsertStudent(t *testing.T) {
	app := setup(t)
	std := testutil.CreateStudent(t, repo, "S2", "Ravi", "BSc II", "500")
	std.PhotoRef = "/data/student_photos/S2.png"
	if _, err := repo.UpsertStudent(context.Background(), std); err != nil {
		t.Fatalf("UpsertStudent() failed: %v", err)
	}

	tests := []struct {
		httpTest
		want ledger.Student
	}{
		{
			httpTest: httpTest{
				name:     "bad json",
				path:     "/v1/students/S1",
				body:     []byte(`{"name": `),
				wantCode: http.StatusBadRequest,
			},
		},
		{
			httpTest: httpTest{
				name:     "invalid data",
				path:     "/v1/students/S1",
				body:     []byte(`{"name": " ", "total_fee": -1}`),
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{"name": "this field is required", "total_fee": "total_fee must be 0 or greater"}`),
			},
		},
		{
			httpTest: httpTest{
				name:     "missing total_fee",
				path:     "/v1/students/S2",
				body:     []byte(`{"name": "Ravi K"}`),
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{"total_fee": "this field is required"}`),
			},
		},
		{
			httpTest: httpTest{
				name:     "null total_fee and blank name",
				path:     "/v1/students/S2",
				body:     []byte(`{"name": " ", "total_fee": null}`),
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{"name": "this field is required", "total_fee": "this field is required"}`),
			},
		},
		{
			httpTest: httpTest{
				name:     "precision",
				path:     "/v1/students/S1",
				body:     []byte(`{"name": "Asha", "total_fee": "10.125"}`),
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{"total_fee": "at most 2 decimal places are allowed"}`),
			},
		},
		{
			httpTest: httpTest{
				name:     "create",
				path:     "/v1/students/S1",
				body:     []byte(`{"name": " Asha ", "class": "BSc I", "total_fee": 1000}`),
				wantCode: http.StatusOK,
			},
			want: ledger.Student{ID: "S1", Name: "Asha", ClassName: "BSc I", TotalFee: decimal.NewFromInt(1000)},
		},
		{
			httpTest: httpTest{
				name:     "replace keeps photo",
				path:     "/v1/students/S2",
				body:     []byte(`{"student_id": "other", "name": "Ravi K", "total_fee": "600.50", "photo_path": "/etc/passwd"}`),
				wantCode: http.StatusOK,
			},
			want: ledger.Student{ID: "S2", Name: "Ravi K", TotalFee: decimal.RequireFromString("600.5"), PhotoRef: std.PhotoRef},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, _ := repo.GetStudent(context.Background(), "S2")

			req, rec := newRequest(http.MethodPut, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode != http.StatusOK {
				after, _ := repo.GetStudent(context.Background(), "S2")
				assert.True(t, before.TotalFee.Equal(after.TotalFee), "total_fee changed to %v", after.TotalFee)
				if tt.wantData != nil {
					checkCodeAndData(t, tt.httpTest, rec)
				} else {
					checkCode(t, tt.httpTest, rec)
				}
				return
			}
			checkCode(t, tt.httpTest, rec)

			got, err := repo.GetStudent(context.Background(), tt.want.ID)
			if err != nil {
				t.Fatalf("GetStudent() failed: %v", err)
			}
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.ClassName, got.ClassName)
			assert.True(t, tt.want.TotalFee.Equal(got.TotalFee), "total_fee = %v", got.TotalFee)
			assert.Equal(t, tt.want.PhotoRef, got.PhotoRef)
		})
	}

	_, err := repo.GetStudent(context.Background(), "other")
	assert.True(t, ledger.IsNotFound(err))
}

func Test_ledgerApi_statement(t *testing.T) {
	app := setup(t)
	testutil.CreateStudent(t, repo, "S1", "Asha", "BSc I", "1000")
	testutil.CreateStudent(t, repo, "S2", "Ravi", "BSc II", "500")
	testutil.CreatePayment(t, repo, "S1", "400", ledger.ModeCash)
	testutil.CreatePayment(t, repo, "S1", "150.50", ledger.ModeUPI)

	t.Run("unknown student", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/students/S9")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errStudentNotFound)}, rec)
	})

	t.Run("with payments", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/students/S1")
		app.ServeHTTP(rec, req)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var stmt ledger.Statement
		unmarshalBody(t, rec, &stmt)
		assert.Equal(t, "Asha", stmt.Student.Name)
		assert.Equal(t, "550.50", stmt.TotalPaid.StringFixed(2))
		assert.Equal(t, "449.50", stmt.TotalDue.StringFixed(2))
		if assert.Len(t, stmt.Payments, 2) {
			assert.Equal(t, int64(2), stmt.Payments[0].ReceiptNo)
			assert.Equal(t, int64(1), stmt.Payments[1].ReceiptNo)
		}
	})

	t.Run("without payments", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/students/S2")
		app.ServeHTTP(rec, req)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)
		assert.Contains(t, rec.Body.String(), `"payments":[]`)
	})
}

func Test_ledgerApi_balance(t *testing.T) {
	app := setup(t)
	testutil.CreateStudent(t, repo, "S1", "Asha", "BSc I", "1000")
	testutil.CreateStudent(t, repo, "S2", "Ravi", "BSc II", "0")
	testutil.CreatePayment(t, repo, "S1", "400", ledger.ModeCash)

	tests := []httpTest{
		{
			name:     "unknown student",
			path:     "/v1/students/S9/balance",
			wantCode: http.StatusNotFound,
			wantData: marchallObj(t, errStudentNotFound),
		},
		{
			name:     "partly paid",
			path:     "/v1/students/S1/balance",
			wantCode: http.StatusOK,
			wantData: []byte(`{"total_fee": "1000.00", "total_paid": "400.00", "total_due": "600.00"}`),
		},
		{
			name:     "no fee",
			path:     "/v1/students/S2/balance",
			wantCode: http.StatusOK,
			wantData: []byte(`{"total_fee": "0.00", "total_paid": "0.00", "total_due": "0.00"}`),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodGet, tt.path)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_ledgerApi_payments(t *testing.T) {
	app := setup(t)
	testutil.CreateStudent(t, repo, "S1", "Asha", "BSc I", "1000")
	testutil.CreateStudent(t, repo, "S2", "Ravi", "BSc II", "500")
	testutil.CreatePayment(t, repo, "S1", "400", ledger.ModeCash)
	testutil.CreatePayment(t, repo, "S2", "100", ledger.ModeCash)
	last := testutil.CreatePayment(t, repo, "S1", "200", ledger.ModeCheque)

	t.Run("list", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/students/S1/payments")
		app.ServeHTTP(rec, req)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var pmts []ledger.Payment
		unmarshalBody(t, rec, &pmts)
		if assert.Len(t, pmts, 2) {
			assert.Equal(t, int64(3), pmts[0].ReceiptNo)
			assert.Equal(t, int64(1), pmts[1].ReceiptNo)
		}
	})

	t.Run("list unknown student", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/students/S9/payments")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errStudentNotFound)}, rec)
	})

	t.Run("last", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/students/S1/payments/last")
		app.ServeHTTP(rec, req)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var pmt ledger.Payment
		unmarshalBody(t, rec, &pmt)
		assert.Equal(t, last.ReceiptNo, pmt.ReceiptNo)
		assert.Equal(t, ledger.ModeCheque, pmt.Mode)
	})

	t.Run("no last", func(t *testing.T) {
		testutil.CreateStudent(t, repo, "S3", "Meena", "", "100")
		req, rec := newRequest(http.MethodGet, "/v1/students/S3/payments/last")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errPaymentNotFound)}, rec)
	})

	t.Run("retrieve", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/payments/2")
		app.ServeHTTP(rec, req)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		var pmt ledger.Payment
		unmarshalBody(t, rec, &pmt)
		assert.Equal(t, "S2", pmt.StudentID)
		assert.Equal(t, "100.00", pmt.Amount.StringFixed(2))
	})

	for _, path := range []string{"/v1/payments/abc", "/v1/payments/0"} {
		t.Run("bad receipt number "+path, func(t *testing.T) {
			req, rec := newRequest(http.MethodGet, path)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)}, rec)
		})
	}
}

func Test_ledgerApi_recordPayment(t *testing.T) {
	app := setup(t)
	testutil.CreateStudent(t, repo, "S1", "Asha", "BSc I", "1000")

	tests := []struct {
		httpTest
		wantNo    int64
		wantDue   string
		wantDate  string
		wantEmail string
	}{
		{
			httpTest: httpTest{
				name:     "unknown student",
				path:     "/v1/students/S9/payments",
				body:     []byte(`{"amount": 100}`),
				wantCode: http.StatusNotFound,
				wantData: marchallObj(t, errStudentNotFound),
			},
		},
		{
			httpTest: httpTest{
				name:     "invalid data",
				path:     "/v1/students/S1/payments",
				body:     []byte(`{"amount": 0, "mode": "Bitcoin"}`),
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{
					"amount": "amount must be greater than 0",
					"mode": "mode must be one of: Cash, Cheque, UPI, Online, Bank Transfer, Other"
				}`),
			},
		},
		{
			httpTest: httpTest{
				name:     "bad date",
				path:     "/v1/students/S1/payments",
				body:     []byte(`{"amount": 100, "date": "12/03/2024"}`),
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{"date": "use the YYYY-MM-DD or YYYY-MM-DD hh:mm:ss format"}`),
			},
		},
		{
			httpTest: httpTest{
				name:     "bad email",
				path:     "/v1/students/S1/payments",
				body:     []byte(`{"amount": 100, "email": "asha@"}`),
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{"email": "enter a valid email address"}`),
			},
		},
		{
			httpTest: httpTest{
				name:     "first payment",
				path:     "/v1/students/S1/payments",
				body:     []byte(`{"amount": 400, "date": "2024-03-12 10:30:00"}`),
				wantCode: http.StatusCreated,
			},
			wantNo:   1,
			wantDue:  "600.00",
			wantDate: "2024-03-12 10:30:00",
		},
		{
			httpTest: httpTest{
				name:     "overpayment",
				path:     "/v1/students/S1/payments",
				body:     []byte(`{"amount": 650, "mode": "UPI"}`),
				wantCode: http.StatusUnprocessableEntity,
				wantData: []byte(`{"error": "payment exceeds remaining fee of 600.00", "due": "600.00"}`),
			},
		},
		{
			httpTest: httpTest{
				name:     "pay the rest and mail",
				path:     "/v1/students/S1/payments",
				body:     []byte(`{"amount": "600", "mode": "UPI", "email": "Asha <asha@example.com>"}`),
				wantCode: http.StatusCreated,
			},
			wantNo:    2,
			wantDue:   "0.00",
			wantEmail: "asha@example.com",
		},
		{
			httpTest: httpTest{
				name:     "fully paid",
				path:     "/v1/students/S1/payments",
				body:     []byte(`{"amount": 0.01}`),
				wantCode: http.StatusUnprocessableEntity,
				wantData: []byte(`{"error": "payment exceeds remaining fee of 0.00", "due": "0.00"}`),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emailsvc.ResetSentMessages()

			req, rec := newRequest(http.MethodPost, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode != http.StatusCreated {
				checkCodeAndData(t, tt.httpTest, rec)
				return
			}
			checkCode(t, tt.httpTest, rec)

			var rcpt ledger.Receipt
			unmarshalBody(t, rec, &rcpt)
			assert.Equal(t, tt.wantNo, rcpt.Payment.ReceiptNo)
			assert.Equal(t, tt.wantDue, rcpt.TotalDue.StringFixed(2))
			if tt.wantDate != "" {
				assert.Equal(t, tt.wantDate, rcpt.Payment.Date.Format(ledger.DateLayout))
			}

			exists, _ := afero.Exists(fs, "/data/receipts/"+rcpt.Filename("pdf"))
			assert.True(t, exists, "receipt file not rendered")

			if tt.wantEmail == "" {
				assert.Empty(t, emailsvc.SentMessages)
				return
			}
			if assert.Len(t, emailsvc.SentMessages, 1) {
				msg := emailsvc.SentMessages[0]
				assert.Equal(t, tt.wantEmail, msg.To[0].Address)
				if assert.Len(t, msg.Attachments, 1) {
					assert.Equal(t, rcpt.Filename("pdf"), msg.Attachments[0].Filename)
				}
			}
		})
	}
}

func Test_ledgerApi_recordPayment_dayOnly(t *testing.T) {
	app := setup(t)
	testutil.CreateStudent(t, repo, "S1", "Asha", "BSc I", "1000")

	defer func(f func() time.Time) { nowFunc = f }(nowFunc)
	nowFunc = func() time.Time { return time.Date(2024, 6, 1, 9, 15, 30, 0, time.Local) }

	req, rec := newRequest(http.MethodPost, "/v1/students/S1/payments", []byte(`{"amount": 100, "date": "2024-03-12"}`))
	app.ServeHTTP(rec, req)
	checkCode(t, httpTest{wantCode: http.StatusCreated}, rec)

	pmt, err := repo.GetPayment(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetPayment() failed: %v", err)
	}
	assert.Equal(t, "2024-03-12 09:15:30", pmt.Date.Format(ledger.DateLayout))
	assert.Equal(t, ledger.ModeCash, pmt.Mode)
}

func Test_ledgerApi_uploadPhoto(t *testing.T) {
	app := setup(t)
	testutil.CreateStudent(t, repo, "S1", "Asha", "BSc I", "1000")

	tests := []struct {
		httpTest
		filename string
		wantRef  string
	}{
		{
			httpTest: httpTest{
				name:     "unknown student",
				path:     "/v1/students/S9/photo",
				wantCode: http.StatusNotFound,
				wantData: marchallObj(t, errStudentNotFound),
			},
			filename: "asha.png",
		},
		{
			httpTest: httpTest{
				name:     "no file",
				path:     "/v1/students/S1/photo",
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{"photo": "this field is required"}`),
			},
		},
		{
			httpTest: httpTest{
				name:     "unsupported format",
				path:     "/v1/students/S1/photo",
				wantCode: http.StatusBadRequest,
				wantData: []byte(`{"photo": "unsupported format, use one of: .png .jpg .jpeg .bmp .gif"}`),
			},
			filename: "asha.tiff",
		},
		{
			httpTest: httpTest{
				name:     "ok",
				path:     "/v1/students/S1/photo",
				wantCode: http.StatusOK,
			},
			filename: "Asha.JPG",
			wantRef:  "/data/student_photos/S1.jpg",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newUploadRequest(tt.path, "photo", tt.filename, []byte("photo-bytes"))
			app.ServeHTTP(rec, req)

			if tt.wantCode != http.StatusOK {
				checkCodeAndData(t, tt.httpTest, rec)
				return
			}
			checkCode(t, tt.httpTest, rec)

			var std ledger.Student
			unmarshalBody(t, rec, &std)
			assert.Equal(t, tt.wantRef, std.PhotoRef)

			data, err := afero.ReadFile(fs, tt.wantRef)
			if assert.NoError(t, err) {
				assert.Equal(t, "photo-bytes", string(data))
			}
			got, _ := repo.GetStudent(context.Background(), "S1")
			assert.Equal(t, tt.wantRef, got.PhotoRef)
			assert.Equal(t, "Asha", got.Name)
		})
	}
}

func Test_ledgerApi_receipt(t *testing.T) {
	app := setup(t)
	testutil.CreateStudent(t, repo, "S1", "Asha", "BSc I", "1000")
	testutil.CreatePayment(t, repo, "S1", "400", ledger.ModeCash)

	t.Run("unknown payment", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/payments/7/receipt")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, errPaymentNotFound)}, rec)
	})

	t.Run("pdf", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/payments/1/receipt")
		app.ServeHTTP(rec, req)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)

		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "Receipt_S1_1.pdf")
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
	})
}

func Test_ledgerApi_export(t *testing.T) {
	app := setup(t)
	testutil.CreateStudent(t, repo, "S1", "Asha", "BSc I", "1000")
	testutil.CreateStudent(t, repo, "S2", "Ravi", "BSc II", "500")
	testutil.CreatePayment(t, repo, "S1", "400", ledger.ModeCash)
	testutil.CreatePayment(t, repo, "S2", "100", ledger.ModeUPI)

	t.Run("bad date", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/export?from=yesterday")
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest,
			wantData: []byte(`{"from": "use the YYYY-MM-DD format"}`),
		}, rec)
	})

	readPayments := func(t *testing.T, data []byte) [][]string {
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("OpenReader() failed: %v", err)
		}
		defer f.Close()
		rows, err := f.GetRows("Payments")
		if err != nil {
			t.Fatalf("GetRows() failed: %v", err)
		}
		return rows
	}

	t.Run("one student", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/export?student_id=S2")
		app.ServeHTTP(rec, req)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), xlsxMIME))

		rows := readPayments(t, rec.Body.Bytes())
		if assert.Len(t, rows, 2) {
			assert.Equal(t, "S2", rows[1][1])
		}
	})

	t.Run("today included", func(t *testing.T) {
		today := time.Now().Format(dayLayout)
		req, rec := newRequest(http.MethodGet, "/v1/export?from="+today+"&to="+today)
		app.ServeHTTP(rec, req)
		checkCode(t, httpTest{wantCode: http.StatusOK}, rec)
		assert.Len(t, readPayments(t, rec.Body.Bytes()), 3)
	})
}
