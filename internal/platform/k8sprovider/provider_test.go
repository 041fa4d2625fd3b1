package k8sprovider

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/holocore/holod/internal/ibus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeAddRepublishesAsIbusMessages(t *testing.T) {
	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "worker-1"},
		Status: corev1.NodeStatus{
			Addresses: []corev1.NodeAddress{
				{Type: corev1.NodeInternalIP, Address: "10.0.0.5"},
			},
		},
	}
	client := fake.NewSimpleClientset(node)
	broker := ibus.NewBroker()

	_, ifaceCh, cancelIface := broker.Subscribe(ibus.TopicInterface)
	defer cancelIface()
	_, addrCh, cancelAddr := broker.Subscribe(ibus.TopicAddress)
	defer cancelAddr()
	_, ridCh, cancelRid := broker.Subscribe(ibus.TopicRouterID)
	defer cancelRid()

	p := New(client, broker, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	var gotIface, gotAddr, gotRid bool
	timeout := time.After(3 * time.Second)
	for !(gotIface && gotAddr && gotRid) {
		select {
		case msg := <-ifaceCh:
			upd, ok := msg.(ibus.InterfaceUpd)
			require.True(t, ok)
			assert.Equal(t, "k8s-node/worker-1", upd.IfName)
			gotIface = true
		case msg := <-addrCh:
			add, ok := msg.(ibus.InterfaceAddressAdd)
			require.True(t, ok)
			assert.Equal(t, "k8s-node/worker-1", add.IfName)
			assert.Equal(t, "10.0.0.5", add.Prefix.Addr().String())
			gotAddr = true
		case msg := <-ridCh:
			rid, ok := msg.(ibus.RouterIDUpdate)
			require.True(t, ok)
			require.NotNil(t, rid.IPv4)
			assert.Equal(t, "10.0.0.5", rid.IPv4.String())
			gotRid = true
		case <-timeout:
			t.Fatal("timed out waiting for ibus messages from node add")
		}
	}
}

func TestServiceAddRepublishesClusterIPAsAddress(t *testing.T) {
	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{Name: "web", Namespace: "default"},
		Spec:       corev1.ServiceSpec{ClusterIP: "10.96.0.10"},
	}
	client := fake.NewSimpleClientset(svc)
	broker := ibus.NewBroker()

	_, addrCh, cancelAddr := broker.Subscribe(ibus.TopicAddress)
	defer cancelAddr()

	p := New(client, broker, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = p.Run(ctx) }()

	select {
	case msg := <-addrCh:
		add, ok := msg.(ibus.InterfaceAddressAdd)
		require.True(t, ok)
		assert.Equal(t, "k8s-svc/default/web", add.IfName)
		assert.Equal(t, "10.96.0.10", add.Prefix.Addr().String())
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for ibus message from service add")
	}
}
