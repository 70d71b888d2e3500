package driver

import (
	"testing"

	"messaging-gateway/internal/platform/config"
)

func TestHelloReply_SupportsTransactions(t *testing.T) {
	cases := []struct {
		name  string
		reply helloReply
		want  bool
	}{
		{"standalone", helloReply{}, false},
		{"replica set", helloReply{SetName: "rs0"}, true},
		{"mongos", helloReply{Msg: "isdbgrid"}, true},
	}
	for _, tc := range cases {
		if got := tc.reply.supportsTransactions(); got != tc.want {
			t.Errorf("%s: 期望 %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestMongoClientOptions_Credentials(t *testing.T) {
	t.Setenv("MONGO_USERNAME", "env-user")
	t.Setenv("MONGO_PASSWORD", "env-pass")

	opts, err := mongoClientOptions(config.MongoConfig{URL: "mongodb://localhost:27017"}, "messaging-gateway")
	if err != nil {
		t.Fatal(err)
	}
	if opts.Auth == nil || opts.Auth.Username != "env-user" {
		t.Fatalf("應使用環境變量認證, got %+v", opts.Auth)
	}
	if opts.AppName == nil || *opts.AppName != "messaging-gateway" {
		t.Error("應設置 app name")
	}

	opts, err = mongoClientOptions(config.MongoConfig{URL: "mongodb://localhost:27017", Username: "cfg-user", Password: "cfg-pass"}, "x")
	if err != nil {
		t.Fatal(err)
	}
	if opts.Auth.Username != "cfg-user" {
		t.Errorf("配置文件認證應優先, got %s", opts.Auth.Username)
	}
}

func TestMongoClientOptions_TLSMissingCA(t *testing.T) {
	_, err := mongoClientOptions(config.MongoConfig{
		URL:        "mongodb://localhost:27017",
		TLSEnabled: true,
		TLSCAFile:  "/nonexistent/ca.pem",
	}, "x")
	if err == nil {
		t.Error("CA 文件不存在應返回錯誤")
	}
}
