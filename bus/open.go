package bus

import (
	"net/url"

	"github.com/sirupsen/logrus"

	"church-rpc/rpcerr"
)

// Open connects to the broker named by address:
//
//	nsq://nsqd:4150/...    NSQ
//	etcd://etcd:2379/...   etcd, keys under DefaultEtcdPrefix
//	memory://local/...     in-process
func Open(address *url.URL, log *logrus.Entry) (Bus, error) {
	if address == nil {
		return nil, rpcerr.New(rpcerr.KindArgument, "bus open", "address is nil")
	}
	switch address.Scheme {
	case "nsq":
		return NewNSQ(address.Host, log)
	case "etcd":
		return NewEtcd([]string{address.Host}, DefaultEtcdPrefix, log)
	case "memory":
		return NewMemory(), nil
	}
	return nil, rpcerr.New(rpcerr.KindConfiguration, "bus open", "unsupported scheme %q", address.Scheme)
}
